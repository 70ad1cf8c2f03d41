package protocol

import (
	"encoding/json"
	"testing"

	"github.com/zot/codata/internal/model"
)

// TestParseRequestsSingleAndBatch verifies both request shapes
func TestParseRequestsSingleAndBatch(t *testing.T) {
	reqs, batch, err := ParseRequests([]byte(`{"action":"get","resource":"dataContextList"}`))
	if err != nil {
		t.Fatalf("ParseRequests single failed: %v", err)
	}
	if batch || len(reqs) != 1 || reqs[0].Action != ActionGet {
		t.Errorf("Unexpected single parse: batch=%v reqs=%+v", batch, reqs)
	}

	reqs, batch, err = ParseRequests([]byte(` [{"action":"get","resource":"a"},{"action":"delete","resource":"b"}]`))
	if err != nil {
		t.Fatalf("ParseRequests batch failed: %v", err)
	}
	if !batch || len(reqs) != 2 || reqs[1].Action != ActionDelete {
		t.Errorf("Unexpected batch parse: batch=%v reqs=%+v", batch, reqs)
	}

	if _, _, err := ParseRequests([]byte(`"nope"`)); err == nil {
		t.Error("Expected error for non-object payload")
	}
}

// TestParseEnvelope verifies envelope type checking
func TestParseEnvelope(t *testing.T) {
	env, err := NewEnvelope(EnvelopeCall, "abc", []Request{GetContext("c")})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	parsed, err := ParseEnvelope(data)
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}
	if parsed.Type != EnvelopeCall || parsed.ID != "abc" {
		t.Errorf("Unexpected envelope: %+v", parsed)
	}

	if _, err := ParseEnvelope([]byte(`{"type":"bogus"}`)); err == nil {
		t.Error("Expected error for unknown envelope type")
	}
}

// TestFailureCarriesMessage verifies error extraction from failed responses
func TestFailureCarriesMessage(t *testing.T) {
	resp := Failure("no such context %q", "x")
	if resp.Success {
		t.Error("Failure should not be successful")
	}
	if msg := resp.ErrorMessage(); msg != `no such context "x"` {
		t.Errorf("Unexpected error message %q", msg)
	}

	ok := Success(map[string]int{"a": 1})
	if ok.ErrorMessage() != "" {
		t.Error("Successful response should have no error message")
	}
}

// TestRequestBuilders verifies resources produced by builders
func TestRequestBuilders(t *testing.T) {
	tests := []struct {
		req      Request
		action   Action
		resource string
	}{
		{GetContextList(), ActionGet, "dataContextList"},
		{GetContext("c"), ActionGet, "dataContext[c]"},
		{DeleteAllCases("c", "p"), ActionDelete, "dataContext[c].collection[p].allCases"},
		{DeleteCollection("c", "p"), ActionDelete, "dataContext[c].collection[p]"},
		{CreateCollections("c", []model.Collection{{Name: "p"}}), ActionCreate, "dataContext[c].collection"},
		{CreateItems("c", nil), ActionCreate, "dataContext[c].item"},
		{GetCaseByID("c", 3), ActionGet, "dataContext[c].caseByID[3]"},
		{CreateContext(&model.Context{Name: "c"}), ActionCreate, "dataContext"},
	}
	for _, tt := range tests {
		if tt.req.Action != tt.action || tt.req.Resource != tt.resource {
			t.Errorf("Got %s %s, want %s %s", tt.req.Action, tt.req.Resource, tt.action, tt.resource)
		}
	}

	var items []model.Record
	if err := json.Unmarshal(CreateItems("c", nil).Values, &items); err != nil || items == nil {
		t.Errorf("CreateItems with nil should encode an empty array, got %s", CreateItems("c", nil).Values)
	}
}

// TestParseOperations verifies single and array notification payloads
func TestParseOperations(t *testing.T) {
	ops, err := ParseOperations(json.RawMessage(`{"operation":"updateDataContext"}`))
	if err != nil || len(ops) != 1 || ops[0].Operation != OpUpdateDataContext {
		t.Errorf("Unexpected single parse: %+v %v", ops, err)
	}

	ops, err = ParseOperations(json.RawMessage(`[{"operation":"deleteCases","result":{"success":true,"caseIDs":[5,9]}},{"operation":"createAttributes"}]`))
	if err != nil || len(ops) != 2 {
		t.Fatalf("Unexpected array parse: %+v %v", ops, err)
	}

	var result OperationResult
	if err := json.Unmarshal(ops[0].Result, &result); err != nil {
		t.Fatalf("Result decode failed: %v", err)
	}
	ids := result.AffectedCaseIDs()
	if len(ids) != 2 || ids[0] != 5 || ids[1] != 9 {
		t.Errorf("Expected [5 9], got %v", ids)
	}
}
