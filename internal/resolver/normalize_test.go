package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName_Empty(t *testing.T) {
	assert.Equal(t, "", NormalizeName(""))
	assert.Equal(t, "", NormalizeName("   "))
}

func TestNormalizeName_Uppercase(t *testing.T) {
	assert.Equal(t, "BOSTON CELTICS", NormalizeName("Boston Celtics"))
}

func TestNormalizeName_Punctuation(t *testing.T) {
	assert.Equal(t, "SMITH AND JONES", NormalizeName("Smith & Jones"))
	assert.Equal(t, "OBRIEN WARRIORS", NormalizeName("O'Brien Warriors"))
	assert.Equal(t, "WAKE FOREST", NormalizeName("Wake-Forest"))
}

func TestNormalizeName_ClubSuffixes(t *testing.T) {
	assert.Equal(t, "REAL MADRID", NormalizeName("Real Madrid FC"))
	assert.Equal(t, "RIVERSIDE", NormalizeName("Riverside Basketball Club"))
	// Stacked suffixes are stripped in one call.
	assert.Equal(t, "RIVERSIDE", NormalizeName("Riverside FC BC"))
	// A name that is nothing but a suffix survives.
	assert.Equal(t, "FC", NormalizeName("FC"))
}

func TestNormalizeName_MascotSuffixes(t *testing.T) {
	assert.Equal(t, "DUKE", NormalizeName("Duke Blue Devils"))
	assert.Equal(t, "NORTH CAROLINA", NormalizeName("North Carolina Tar Heels"))
	assert.Equal(t, "KENTUCKY", NormalizeName("Kentucky Wildcats"))
	assert.Equal(t, "ALABAMA", NormalizeName("Alabama Crimson Tide BC"))
	// Pro-team mascots stay; the city alone does not identify the team.
	assert.Equal(t, "BOSTON CELTICS", NormalizeName("Boston Celtics"))
	assert.Equal(t, "LOS ANGELES LAKERS", NormalizeName("Los Angeles Lakers"))
}

func TestNormalizeName_Abbreviations(t *testing.T) {
	assert.Equal(t, "SAINT LOUIS", NormalizeName("St. Louis"))
	assert.Equal(t, "MOUNT VERNON", NormalizeName("Mt Vernon"))
	assert.Equal(t, "FORT WAYNE", NormalizeName("Ft. Wayne"))
	assert.Equal(t, "DUKE UNIVERSITY", NormalizeName("Duke Univ."))
}

func TestNormalizeName_CollapseSpaces(t *testing.T) {
	assert.Equal(t, "BOSTON CELTICS", NormalizeName("  Boston   Celtics  "))
}

func TestNormalizeName_Idempotent(t *testing.T) {
	inputs := []string{
		"St. Louis Cardinals",
		"Real Madrid FC",
		"Smith & Jones",
		"  Boston   Celtics  ",
		"Ft. Wayne Mad Ants",
		"O'Brien Warriors",
		"LOS ANGELES LAKERS",
		"Riverside FC BC",
		"Duke Blue Devils",
		"Kentucky Wildcats Basketball Club",
		"",
	}
	for _, in := range inputs {
		once := NormalizeName(in)
		assert.Equal(t, once, NormalizeName(once), "input %q", in)
	}
}
