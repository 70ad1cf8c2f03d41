package protocol

import (
	"encoding/json"

	"github.com/zot/codata/internal/model"
	"github.com/zot/codata/internal/path"
)

// Operation kinds carried by dataContextChangeNotice and documentChangeNotice.
const (
	OpCreateCases       = "createCases"
	OpUpdateCases       = "updateCases"
	OpDeleteCases       = "deleteCases"
	OpMoveCases         = "moveCases"
	OpCreateAttributes  = "createAttributes"
	OpUpdateAttributes  = "updateAttributes"
	OpDeleteAttributes  = "deleteAttributes"
	OpMoveAttribute     = "moveAttribute"
	OpHideAttributes    = "hideAttributes"
	OpUnhideAttributes  = "unhideAttributes"
	OpCreateCollection  = "createCollection"
	OpUpdateCollection  = "updateCollection"
	OpDeleteCollection  = "deleteCollection"
	OpDependentCases    = "dependentCases"
	OpUpdateDataContext = "updateDataContext"

	OpDataContextCountChanged = "dataContextCountChanged"
	OpDataContextDeleted      = "dataContextDeleted"
)

// Operation is one change record inside a notification.
type Operation struct {
	Operation string          `json:"operation"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// OperationResult is the result payload of case operations.
type OperationResult struct {
	Success bool    `json:"success"`
	CaseIDs []int64 `json:"caseIDs,omitempty"`
	CaseID  int64   `json:"caseID,omitempty"`
	Cases   []struct {
		ID int64 `json:"id"`
	} `json:"cases,omitempty"`
}

// AffectedCaseIDs collects every case id named by the result.
func (r *OperationResult) AffectedCaseIDs() []int64 {
	ids := append([]int64(nil), r.CaseIDs...)
	if r.CaseID != 0 {
		ids = append(ids, r.CaseID)
	}
	for _, c := range r.Cases {
		ids = append(ids, c.ID)
	}
	return ids
}

// CaseValues wraps a case in get and update payloads.
type CaseValues struct {
	Case model.Case `json:"case"`
}

// CollectionCases is the result of reading all cases of a collection.
type CollectionCases struct {
	Collection struct {
		Name string `json:"name"`
	} `json:"collection"`
	Cases []CaseEntry `json:"cases"`
}

// CaseEntry is one case of an allCases listing.
type CaseEntry struct {
	Case      model.Case `json:"case"`
	CaseIndex int        `json:"caseIndex"`
}

// CreatedIDs is the result of creation requests.
type CreatedIDs struct {
	IDs     []int64 `json:"ids,omitempty"`
	CaseIDs []int64 `json:"caseIDs,omitempty"`
	ItemIDs []int64 `json:"itemIDs,omitempty"`
}

// GetContextList reads the listing of contexts.
func GetContextList() Request {
	return Request{Action: ActionGet, Resource: path.ContextList()}
}

// GetContext reads a context schema.
func GetContext(name string) Request {
	return Request{Action: ActionGet, Resource: path.Context(name).String()}
}

// CreateContext creates a context with its collections.
func CreateContext(ctx *model.Context) Request {
	return MustRequest(ActionCreate, path.NewContext(), ctx)
}

// UpdateContext updates a context's identifying info.
func UpdateContext(name, title string) Request {
	return MustRequest(ActionUpdate, path.Context(name).String(), map[string]string{"title": title})
}

// DeleteContext removes a context.
func DeleteContext(name string) Request {
	return Request{Action: ActionDelete, Resource: path.Context(name).String()}
}

// CreateCollections appends collections to a context, leaf-most last.
func CreateCollections(contextName string, colls []model.Collection) Request {
	return MustRequest(ActionCreate, path.Context(contextName).NewCollections().String(), colls)
}

// DeleteCollection removes a collection.
func DeleteCollection(contextName, collection string) Request {
	return Request{Action: ActionDelete, Resource: path.Context(contextName).Collection(collection).String()}
}

// GetAllCases reads every case of a collection.
func GetAllCases(contextName, collection string) Request {
	return Request{Action: ActionGet, Resource: path.Context(contextName).Collection(collection).AllCases().String()}
}

// DeleteAllCases removes every case of a collection.
func DeleteAllCases(contextName, collection string) Request {
	return Request{Action: ActionDelete, Resource: path.Context(contextName).Collection(collection).AllCases().String()}
}

// GetCaseByID reads one case.
func GetCaseByID(contextName string, id int64) Request {
	return Request{Action: ActionGet, Resource: path.Context(contextName).CaseByID(id).String()}
}

// UpdateCaseByID replaces values of one case.
func UpdateCaseByID(contextName string, id int64, values map[string]any) Request {
	return MustRequest(ActionUpdate, path.Context(contextName).CaseByID(id).String(),
		map[string]any{"values": values})
}

// DeleteCaseByID removes one case and its descendants.
func DeleteCaseByID(contextName string, id int64) Request {
	return Request{Action: ActionDelete, Resource: path.Context(contextName).CaseByID(id).String()}
}

// CreateItems inserts flat records; the host splits them into cases.
func CreateItems(contextName string, items []model.Record) Request {
	if items == nil {
		items = []model.Record{}
	}
	return MustRequest(ActionCreate, path.Context(contextName).Item().String(), items)
}

// NewContextNotification builds a dataContextChangeNotice message.
func NewContextNotification(contextName string, ops []Operation) Request {
	return MustRequest(ActionNotify, path.ContextChangeNotice(contextName), ops)
}

// NewDocumentNotification builds a documentChangeNotice message.
func NewDocumentNotification(ops ...Operation) Request {
	return MustRequest(ActionNotify, path.DocumentChangeNotice(), ops)
}

// NewOperation builds an operation record with a marshaled result.
func NewOperation(kind string, result any) Operation {
	op := Operation{Operation: kind}
	if result != nil {
		if raw, err := json.Marshal(result); err == nil {
			op.Result = raw
		}
	}
	return op
}

// ParseOperations decodes notification values that may be one operation or
// an array of them.
func ParseOperations(values json.RawMessage) ([]Operation, error) {
	values = trimLeft(values)
	if len(values) == 0 {
		return nil, nil
	}
	if values[0] == '[' {
		var ops []Operation
		if err := json.Unmarshal(values, &ops); err != nil {
			return nil, err
		}
		return ops, nil
	}
	var op Operation
	if err := json.Unmarshal(values, &op); err != nil {
		return nil, err
	}
	return []Operation{op}, nil
}
