package resolver

import (
	"regexp"
	"strings"
)

// clubSuffixes lists generic club/organization suffixes to strip during team
// name normalization.
var clubSuffixes = []string{
	" BASKETBALL CLUB",
	" BASKETBALL TEAM",
	" ATHLETIC CLUB",
	" SPORTS CLUB",
	" CLUB",
	" BC",
	" FC",
}

// mascotSuffixes lists mascot phrases that sources append inconsistently
// ("Duke Blue Devils" vs "Duke"). Only distinctive college-style mascots are
// listed; pro-team mascots stay because the city alone is ambiguous
// (LOS ANGELES is both the Lakers and the Clippers).
var mascotSuffixes = []string{
	" BLUE DEVILS",
	" TAR HEELS",
	" CRIMSON TIDE",
	" FIGHTING IRISH",
	" NITTANY LIONS",
	" DEMON DEACONS",
	" YELLOW JACKETS",
	" HORNED FROGS",
	" SCARLET KNIGHTS",
	" GOLDEN GOPHERS",
	" BOILERMAKERS",
	" CORNHUSKERS",
	" WOLVERINES",
	" JAYHAWKS",
	" HOOSIERS",
	" SOONERS",
	" RAZORBACKS",
	" WOLFPACK",
	" WILDCATS",
	" BULLDOGS",
}

// abbreviations maps whole-word tokens to their expanded forms. Expansions
// never contain a key token, so a second pass is a no-op.
var abbreviations = map[string]string{
	"ST":   "SAINT",
	"MT":   "MOUNT",
	"FT":   "FORT",
	"UNIV": "UNIVERSITY",
	"INTL": "INTERNATIONAL",
}

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

// NormalizeName standardizes a team name for matching by:
//  1. Trimming whitespace
//  2. Converting to uppercase
//  3. Stripping punctuation (commas, periods, quotes; & becomes AND)
//  4. Removing generic club suffixes (FC, BC, Club, etc.) and a fixed
//     vocabulary of mascot suffixes (Blue Devils, Tar Heels, etc.)
//  5. Expanding known abbreviations (St, Mt, Ft, Univ, Intl)
//  6. Collapsing multiple spaces into single spaces
//
// The function is pure and idempotent: NormalizeName(NormalizeName(x)) ==
// NormalizeName(x).
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	name = strings.ToUpper(name)

	name = strings.NewReplacer(
		",", "",
		".", "",
		"'", "",
		"\"", "",
		"&", "AND",
		"-", " ",
	).Replace(name)

	name = multiSpaceRe.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)

	// Strip club and mascot suffixes until none match; sources stack them
	// ("Riverside Wildcats BC"). Suffixes carry a leading space, so a name
	// that is nothing but a suffix survives.
	for stripped := true; stripped; {
		stripped = false
		for _, vocab := range [][]string{clubSuffixes, mascotSuffixes} {
			for _, suffix := range vocab {
				if strings.HasSuffix(name, suffix) {
					name = strings.TrimSuffix(name, suffix)
					stripped = true
				}
			}
		}
	}

	words := strings.Fields(name)
	for i, w := range words {
		if expanded, ok := abbreviations[w]; ok {
			words[i] = expanded
		}
	}
	return strings.Join(words, " ")
}
