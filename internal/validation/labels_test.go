package validation

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestNormalizeLabels(t *testing.T) {
	got := NormalizeLabels([]string{" Electronics ", "", "Heavy", "Heavy", "  ", "Electronics"})
	want := []string{"Electronics", "Heavy"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeLabels() = %v, want %v", got, want)
	}
	if got := NormalizeLabels(nil); got == nil || len(got) != 0 {
		t.Errorf("NormalizeLabels(nil) = %v, want empty slice", got)
	}
}

func TestParseLabels(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		present bool
		want    []string
		wantSet bool
		wantErr bool
	}{
		{"absent", "", false, nil, false, false},
		{"empty string clears", "", true, []string{}, true, false},
		{"empty array clears", "[]", true, []string{}, true, false},
		{"normalized", `[" Fragile ","","Fragile","Kitchen"]`, true, []string{"Fragile", "Kitchen"}, true, false},
		{"not json", "Fragile,Kitchen", true, nil, false, true},
		{"wrong element type", `[1,2]`, true, nil, false, true},
		{"too long", `["` + strings.Repeat("x", MaxLabelLength+1) + `"]`, true, nil, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, set, err := ParseLabels(tt.raw, tt.present)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLabels() error = %v, wantErr %v", err, tt.wantErr)
			}
			if set != tt.wantSet {
				t.Errorf("set = %v, want %v", set, tt.wantSet)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("labels = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestParseLabels_InvalidJSONSentinel(t *testing.T) {
	_, _, err := ParseLabels("{", true)
	if !errors.Is(err, ErrInvalidLabels) {
		t.Errorf("err = %v, want ErrInvalidLabels", err)
	}
}

func TestParseLabels_TooMany(t *testing.T) {
	names := make([]string, MaxLabels+1)
	for i := range names {
		names[i] = `"l` + strings.Repeat("x", i) + `"`
	}
	if _, _, err := ParseLabels("["+strings.Join(names, ",")+"]", true); err == nil {
		t.Error("expected error for too many labels")
	}
}

func TestValidateLabels(t *testing.T) {
	got, err := ValidateLabels([]string{" Tools ", "Tools", "", "Garage"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"Tools", "Garage"}) {
		t.Errorf("ValidateLabels() = %#v", got)
	}

	if _, err := ValidateLabels([]string{strings.Repeat("é", MaxLabelLength+1)}); err == nil {
		t.Error("expected error for overlong label")
	}
	if _, err := ValidateLabels([]string{strings.Repeat("é", MaxLabelLength)}); err != nil {
		t.Errorf("label of exactly %d runes rejected: %v", MaxLabelLength, err)
	}
}
