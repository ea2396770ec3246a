package task

import (
	"reflect"
	"testing"
)

func TestParseSort(t *testing.T) {
	cases := []struct {
		name string
		spec string
		want []SortTerm
	}{
		{
			name: "single ascending",
			spec: "created_at:asc",
			want: []SortTerm{{Field: "created_at"}},
		},
		{
			name: "multiple terms keep order",
			spec: "priority:desc,title:asc",
			want: []SortTerm{{Field: "priority", Desc: true}, {Field: "title"}},
		},
		{
			name: "unknown field dropped silently",
			spec: "bogus:asc,due_date:desc",
			want: []SortTerm{{Field: "due_date", Desc: true}},
		},
		{
			name: "unknown direction defaults to ascending",
			spec: "status:sideways",
			want: []SortTerm{{Field: "status"}},
		},
		{
			name: "missing direction defaults to ascending",
			spec: "completed_at",
			want: []SortTerm{{Field: "completed_at"}},
		},
		{
			name: "empty spec",
			spec: "",
			want: nil,
		},
		{
			name: "only unknown fields",
			spec: "bogus:asc,nope:desc",
			want: nil,
		},
		{
			name: "whitespace tolerated",
			spec: " priority:desc , title ",
			want: []SortTerm{{Field: "priority", Desc: true}, {Field: "title"}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseSort(tc.spec)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ParseSort(%q) = %v, want %v", tc.spec, got, tc.want)
			}
		})
	}
}
