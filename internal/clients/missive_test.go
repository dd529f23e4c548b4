package clients

import "testing"

func TestNewMissiveClientDefaultsBaseURL(t *testing.T) {
	c, err := NewMissiveClient("", "tok", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.base.baseURL.String() != "https://public.missiveapp.com/v1" {
		t.Fatalf("expected default base url, got %q", c.base.baseURL.String())
	}
}

func TestNewMissiveClientRequiresToken(t *testing.T) {
	if _, err := NewMissiveClient("", "", Options{}); err == nil {
		t.Fatal("expected error when token is empty")
	}
}

func TestNewTeamworkClientRequiresAPIKey(t *testing.T) {
	if _, err := NewTeamworkClient("https://example.teamwork.com", "", Options{}); err == nil {
		t.Fatal("expected error when api key is empty")
	}
}
