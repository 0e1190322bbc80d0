package track

import (
	"errors"
	"testing"
)

func TestExtract(t *testing.T) {
	id, err := Extract(CatalogTrack{
		ID:         "tr-123",
		ISRC:       " usum71703861 ",
		Title:      "  Midnight City ",
		Artists:    []string{" M83 ", ""},
		PreviewURL: "https://cdn.example.com/p.m4a",
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if id.TrackID != "tr-123" {
		t.Errorf("TrackID = %q", id.TrackID)
	}
	if id.ISRC != "USUM71703861" {
		t.Errorf("ISRC = %q, want uppercased trimmed", id.ISRC)
	}
	if id.Title != "Midnight City" {
		t.Errorf("Title = %q", id.Title)
	}
	if len(id.Artists) != 1 || id.Artists[0] != "M83" {
		t.Errorf("Artists = %v", id.Artists)
	}
	if id.CatalogPreviewURL == "" {
		t.Error("expected preview URL to survive extraction")
	}
}

func TestExtractMissingID(t *testing.T) {
	_, err := Extract(CatalogTrack{Title: "No ID"})
	if !errors.Is(err, ErrMissingTrackID) {
		t.Fatalf("expected ErrMissingTrackID, got %v", err)
	}
	_, err = Extract(CatalogTrack{ID: "   "})
	if !errors.Is(err, ErrMissingTrackID) {
		t.Fatalf("expected ErrMissingTrackID for blank id, got %v", err)
	}
}

func TestSearchQuery(t *testing.T) {
	cases := []struct {
		name string
		id   Identity
		want string
	}{
		{"artist and title", Identity{Title: "One More Time", Artists: []string{"Daft Punk"}}, "Daft Punk One More Time"},
		{"title only", Identity{Title: "Intro"}, "Intro"},
		{"artist only", Identity{Artists: []string{"Burial"}}, "Burial"},
		{"empty", Identity{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.id.SearchQuery(); got != tc.want {
				t.Errorf("SearchQuery() = %q, want %q", got, tc.want)
			}
		})
	}
}
