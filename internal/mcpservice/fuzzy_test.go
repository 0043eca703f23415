package mcpservice

import "testing"

func TestSuggestTools_FindsCloseMatch(t *testing.T) {
	candidates := []string{"weather__get_forecast", "files__read_file", "files__write_file"}
	got := SuggestTools("weather__get_forcast", candidates) // typo: forcast
	if len(got) == 0 || got[0] != "weather__get_forecast" {
		t.Errorf("SuggestTools = %v, want weather__get_forecast first", got)
	}
}

func TestSuggestTools_NoMatchBelowThreshold(t *testing.T) {
	candidates := []string{"weather__get_forecast", "files__read_file"}
	got := SuggestTools("totally_unrelated_name", candidates)
	if len(got) != 0 {
		t.Errorf("SuggestTools = %v, want empty", got)
	}
}

func TestSuggestTools_CapsAtMaxSuggestions(t *testing.T) {
	candidates := []string{
		"svc__tool_a", "svc__tool_b", "svc__tool_c", "svc__tool_d",
	}
	got := SuggestTools("svc__tool_a", candidates)
	if len(got) > maxSuggestions {
		t.Errorf("len(SuggestTools) = %d, want <= %d", len(got), maxSuggestions)
	}
	if got[0] != "svc__tool_a" {
		t.Errorf("best match = %q, want exact match first", got[0])
	}
}
