package core

import (
	"encoding/json"
	"fmt"
)

// Operation represents one of the resource operations exposed by a controller,
// such as find, create or deleteById.
type Operation string

// all supported resource operations
const (
	OperationFind          Operation = "find"
	OperationFindOne       Operation = "findOne"
	OperationFindByID      Operation = "findById"
	OperationCreate        Operation = "create"
	OperationBulkCreate    Operation = "bulkCreate"
	OperationBulkUpdate    Operation = "bulkUpdate"
	OperationUpdateByQuery Operation = "updateByQuery"
	OperationUpdateByID    Operation = "updateById"
	OperationReplaceByID   Operation = "replaceById"
	OperationPatchByID     Operation = "patchById"
	OperationDeleteByQuery Operation = "deleteByQuery"
	OperationDeleteByID    Operation = "deleteById"
	OperationCount         Operation = "count"
)

// RoutedOperations are the operations that get a route on the generated
// router, in registration order. Count comes first so that /count is not
// shadowed by the single-item route.
var RoutedOperations = []Operation{
	OperationCount,
	OperationFind,
	OperationFindByID,
	OperationCreate,
	OperationUpdateByID,
	OperationUpdateByQuery,
	OperationPatchByID,
	OperationReplaceByID,
	OperationDeleteByID,
	OperationDeleteByQuery,
}

// UnmarshalJSON is a custom JSON unmarshaller
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = Operation(s)
	switch *o {
	case OperationFind, OperationFindOne, OperationFindByID,
		OperationCreate, OperationBulkCreate, OperationBulkUpdate,
		OperationUpdateByQuery, OperationUpdateByID, OperationReplaceByID,
		OperationPatchByID, OperationDeleteByQuery, OperationDeleteByID,
		OperationCount:
		return nil
	default:
		return fmt.Errorf("%s is not a valid Operation", s)
	}
}

// hook event names that are not derived from an operation
const (
	EventPreWildcard  = "pre:*"
	EventPostWildcard = "post:*"
	EventPreFinalize  = "pre:finalize"
)

// HookName returns the name used for hook event lookup around an operation.
// The by-query update and delete operations keep their historical short
// names, everything else uses the operation name verbatim.
func HookName(o Operation) string {
	switch o {
	case OperationUpdateByQuery:
		return "update"
	case OperationDeleteByQuery:
		return "delete"
	default:
		return string(o)
	}
}

// PreEvent returns the pre-operation hook event name, e.g. "pre:find".
func PreEvent(o Operation) string {
	return "pre:" + HookName(o)
}

// PostEvent returns the post-operation hook event name, e.g. "post:find".
func PostEvent(o Operation) string {
	return "post:" + HookName(o)
}

// Notifier is an interface to receive resource change notifications
type Notifier interface {
	Notify(resource string, operation Operation, payload []byte)
}
