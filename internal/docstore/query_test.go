package docstore

import (
	"reflect"
	"testing"
)

func TestSplitPath(t *testing.T) {
	testCases := []struct {
		path string
		want []string
	}{
		{"/tenantId", []string{"tenantId"}},
		{"/companyProfile/tenantId", []string{"companyProfile", "tenantId"}},
		{"companyProfile.tenantId", []string{"companyProfile", "tenantId"}},
		{"id", []string{"id"}},
		{"", nil},
		{"/", nil},
	}
	for _, tc := range testCases {
		if got := SplitPath(tc.path); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("SplitPath(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestQuery_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		q       Query
		wantErr bool
	}{
		{"empty", Query{}, false},
		{"eq string", Where("/tenantId", OpEq, "t1"), false},
		{"gt number", Where("quantity", OpGt, 3), false},
		{"and", Where("a", OpEq, true).And("b", OpLte, 2.5), false},
		{"nil eq", Where("parentSubscriptionId", OpEq, nil), false},
		{"nil gt", Where("parentSubscriptionId", OpGt, nil), true},
		{"bad operator", Where("a", Operator("like"), "x"), true},
		{"empty path", Where("", OpEq, "x"), true},
		{"bad value", Where("a", OpEq, []string{"x"}), true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.q.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestQuery_AndDoesNotAlias(t *testing.T) {
	base := Where("a", OpEq, 1)
	q1 := base.And("b", OpEq, 2)
	q2 := base.And("c", OpEq, 3)
	if len(base.Filters) != 1 {
		t.Fatalf("base modified: %v", base.Filters)
	}
	if q1.Filters[1].Path != "b" || q2.Filters[1].Path != "c" {
		t.Errorf("And aliased filters: q1=%v q2=%v", q1.Filters, q2.Filters)
	}
}

func TestPartitionKeyValue(t *testing.T) {
	doc := []byte(`{"id":"s1","tenantId":"t-1","quantity":5,"nested":{"k":"v"},"none":null,"arr":[1]}`)
	testCases := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{"/tenantId", "t-1", false},
		{"/quantity", "5", false},
		{"/nested/k", "v", false},
		{"/missing", "", false},
		{"/none", "", false},
		{"", "", false},
		{"/arr", "", true},
		{"/nested", "", true},
	}
	for _, tc := range testCases {
		got, err := PartitionKeyValue(doc, tc.path)
		if (err != nil) != tc.wantErr {
			t.Errorf("PartitionKeyValue(%q) error = %v, wantErr %v", tc.path, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("PartitionKeyValue(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestDocumentID(t *testing.T) {
	if id, err := DocumentID([]byte(`{"id":"abc"}`)); err != nil || id != "abc" {
		t.Errorf("DocumentID = %q, %v; want abc, nil", id, err)
	}
	for _, doc := range []string{`{}`, `{"id":""}`, `{"id":5}`} {
		if _, err := DocumentID([]byte(doc)); err == nil || StatusCode(err) != StatusBadRequest {
			t.Errorf("DocumentID(%s) error = %v, want bad request", doc, err)
		}
	}
}
