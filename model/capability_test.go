package model

import "testing"

func TestCapabilitySet_Has(t *testing.T) {
	tests := []struct {
		name string
		set  CapabilitySet
		cap  string
		want bool
	}{
		{"exact match", CapabilitySet{"workflow:step:complete": true}, "workflow:step:complete", true},
		{"no match", CapabilitySet{"workflow:step:complete": true}, "workflow:step:delegate", false},
		{"prefix wildcard", CapabilitySet{"workflow:*": true}, "workflow:step:complete", true},
		{"deep wildcard", CapabilitySet{"workflow:step:*": true}, "workflow:step:complete", true},
		{"global wildcard", CapabilitySet{"*": true}, "anything:at:all", true},
		{"non-wildcard prefix does not match", CapabilitySet{"workflow:step": true}, "workflow:step:complete", false},
		{"empty set", CapabilitySet{}, "workflow:initiate", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.set.Has(tt.cap); got != tt.want {
				t.Errorf("Has(%q) = %v, want %v", tt.cap, got, tt.want)
			}
		})
	}
}

func TestCapabilitySet_HasAll(t *testing.T) {
	set := CapabilitySet{"workflow:*": true, "signature:create": true}
	if !set.HasAll("workflow:initiate", "signature:create") {
		t.Error("HasAll = false, want true")
	}
	if set.HasAll("workflow:initiate", "audit:verify") {
		t.Error("HasAll with missing cap = true, want false")
	}
}

func TestCapabilitySet_HasAny(t *testing.T) {
	set := CapabilitySet{"audit:verify": true}
	if !set.HasAny("workflow:initiate", "audit:verify") {
		t.Error("HasAny = false, want true")
	}
	if set.HasAny("workflow:initiate", "signature:create") {
		t.Error("HasAny with no matches = true, want false")
	}
}
