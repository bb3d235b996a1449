package analyzer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completeMeta() map[string]string {
	return map[string]string{
		"title":        "Midnight Circuit",
		"artist":       "Lena Volt",
		"album":        "Night Grid",
		"album_artist": "Lena Volt",
		"track":        "3/12",
		"date":         "2024",
		"genre":        "Techno",
		"isrc":         "USAB12400001",
	}
}

func TestValidateMetadataComplete(t *testing.T) {
	t.Parallel()

	rep, issues := ValidateMetadata(completeMeta(), nil)

	assert.Equal(t, MetadataComplete, rep.Status)
	assert.Empty(t, issues)
	assert.False(t, rep.Problem)
	assert.InDelta(t, 2, rep.Measurements["requiredPresent"], 1e-9)
	assert.InDelta(t, 6, rep.Measurements["recommendedPresent"], 1e-9)
}

func TestValidateMetadataMissingRecommendedIsPartial(t *testing.T) {
	t.Parallel()

	meta := completeMeta()
	delete(meta, "genre")
	rep, issues := ValidateMetadata(meta, nil)

	assert.Equal(t, MetadataPartial, rep.Status)
	assert.False(t, rep.Problem)
	require.Len(t, issues, 1)
	assert.Equal(t, "genre", issues[0].Field)
	assert.Equal(t, SeverityWarning, issues[0].Severity)
}

func TestValidateMetadataInvalidRequiredIsIncomplete(t *testing.T) {
	t.Parallel()

	meta := completeMeta()
	meta["title"] = strings.Repeat("x", 250)
	rep, issues := ValidateMetadata(meta, nil)

	assert.Equal(t, MetadataIncomplete, rep.Status)
	assert.True(t, rep.Problem)
	assert.True(t, hasIssue(issues, "title", SeverityError))
}

func TestValidateMetadataEmptyIsMissing(t *testing.T) {
	t.Parallel()

	rep, _ := ValidateMetadata(map[string]string{}, nil)
	assert.Equal(t, MetadataMissing, rep.Status)
	assert.True(t, rep.Problem)
}

func TestValidateMetadataResolvesTagAliases(t *testing.T) {
	t.Parallel()

	meta := map[string]string{
		"TITLE":       "Night Drive",
		"Artist":      "Iva Ray",
		"Album":       "Afterglow",
		"ALBUMARTIST": "Iva Ray",
		"Year":        "2023",
		"TrackNumber": "2/10",
		"Genre":       "House",
		"ISRC":        "GBAAA2300123",
	}
	rep, issues := ValidateMetadata(meta, nil)

	assert.Equal(t, MetadataComplete, rep.Status)
	assert.Empty(t, issues)
}

func TestValidateMetadataFieldFormats(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		field        string
		value        string
		wantSeverity string
	}{
		{"bad isrc", "isrc", "12345", SeverityWarning},
		{"bad date", "date", "23", SeverityWarning},
		{"bad track", "track", "three", SeverityWarning},
		{"bad upc", "upc", "123", SeverityInfo},
		{"bad bpm", "bpm", "fast", SeverityInfo},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			meta := completeMeta()
			meta[tc.field] = tc.value
			_, issues := ValidateMetadata(meta, nil)

			found := false
			for _, issue := range issues {
				if issue.Field == tc.field && strings.Contains(issue.Message, "format") {
					found = true
					assert.Equal(t, tc.wantSeverity, issue.Severity)
				}
			}
			assert.True(t, found, "expected a format issue for %s=%q", tc.field, tc.value)
		})
	}
}

func TestValidateMetadataCrossFieldChecks(t *testing.T) {
	t.Parallel()

	t.Run("release date year disagreement", func(t *testing.T) {
		t.Parallel()
		meta := completeMeta()
		meta["release_date"] = "2023-05-01"
		_, issues := ValidateMetadata(meta, nil)
		assert.True(t, hasIssue(issues, "release_date", SeverityWarning))
	})

	t.Run("unrelated album artist", func(t *testing.T) {
		t.Parallel()
		meta := completeMeta()
		meta["album_artist"] = "Someone Else"
		_, issues := ValidateMetadata(meta, nil)
		assert.True(t, hasIssue(issues, "album_artist", SeverityWarning))
	})

	t.Run("various artists compilations exempt", func(t *testing.T) {
		t.Parallel()
		meta := completeMeta()
		meta["album_artist"] = "Various Artists"
		_, issues := ValidateMetadata(meta, nil)
		assert.False(t, hasIssue(issues, "album_artist", SeverityWarning))
	})

	t.Run("shouting title casing", func(t *testing.T) {
		t.Parallel()
		meta := completeMeta()
		meta["title"] = "MIDNIGHT CIRCUIT"
		rep, issues := ValidateMetadata(meta, nil)
		assert.True(t, hasIssue(issues, "title", SeverityInfo))
		assert.False(t, rep.Problem, "casing hint must not fail the asset")
	})
}

func TestValidateMetadataDuplicateISRCAcrossTracks(t *testing.T) {
	t.Parallel()

	meta := completeMeta()
	tracks := []map[string]string{
		{"ISRC": "USAB12400001", "title": "Midnight Circuit (Dub)"},
		{"isrc": "USAB12400002", "title": "Interlude"},
	}
	rep, issues := ValidateMetadata(meta, tracks)

	require.True(t, hasIssue(issues, "isrc", SeverityCritical))
	assert.True(t, rep.Problem)
	assert.True(t, hasRecommendation(rep, "assigned to 2 tracks"))
}

func TestPlatformReadinessPromotesPlatformFields(t *testing.T) {
	t.Parallel()

	readiness := PlatformReadiness(completeMeta())

	assert.Equal(t, MetadataComplete, readiness["spotify"])
	assert.Equal(t, MetadataComplete, readiness["apple"])
	assert.Equal(t, MetadataComplete, readiness["youtube"])
	// Amazon promotes the UPC to required and the fixture has none.
	assert.Equal(t, MetadataIncomplete, readiness["amazon"])

	withUPC := completeMeta()
	withUPC["upc"] = "0123456789012"
	assert.Equal(t, MetadataComplete, PlatformReadiness(withUPC)["amazon"])
}

func TestNormalizeTagKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "album_artist", NormalizeTagKey("ALBUMARTIST"))
	assert.Equal(t, "album_artist", NormalizeTagKey(" Album Artist "))
	assert.Equal(t, "date", NormalizeTagKey("Year"))
	assert.Equal(t, "upc", NormalizeTagKey("barcode"))
	assert.Equal(t, "label", NormalizeTagKey("Publisher"))
	assert.Equal(t, "title", NormalizeTagKey("TITLE"))
}

func hasIssue(issues []MetadataIssue, field, severity string) bool {
	for _, issue := range issues {
		if issue.Field == field && issue.Severity == severity {
			return true
		}
	}
	return false
}
