package classify

import "sort"

// Fixed keyword and prefix tables used by the middle cascade stages. These
// never decide validity on their own: a hit only counts when the mapped
// category exists in the active weight table.

type keywordEntry struct {
	keyword  string
	category string
}

// keywordTable is tried longest keyword first so the most specific
// substring wins (e.g. "bone density" before "bone").
var keywordTable = []keywordEntry{
	{"angiogram", "CT Angiography"},
	{"angiography", "CT Angiography"},
	{"mammogram", "Mammography"},
	{"tomosynthesis", "Mammography"},
	{"ultrasound", "US Other"},
	{"sonogram", "US Other"},
	{"doppler", "US Vascular"},
	{"echocardiogram", "US Echo"},
	{"radiograph", "XR Other"},
	{"x-ray", "XR Other"},
	{"fluoro", "Fluoroscopy Other"},
	{"pet/ct", "PET CT"},
	{"pet ct", "PET CT"},
	{"bone density", "DEXA"},
	{"dexa", "DEXA"},
}

// angioPrefix is the single 3-character prefix handled before the modality
// table: "CTA ..." descriptions are angio studies, not generic CT.
const (
	angioPrefix         = "cta"
	angioPrefixCategory = "CT Angiography"
)

// modalityPrefixes maps the 2-character modality code a worklist tends to
// put in front of a description to a catch-all category.
var modalityPrefixes = map[string]string{
	"ct": "CT Other",
	"mr": "MR Other",
	"us": "US Other",
	"xr": "XR Other",
	"dx": "XR Other",
	"nm": "NM Other",
	"pt": "PET CT",
	"mg": "Mammography",
	"fl": "Fluoroscopy Other",
}

// Partial-match special cases.
const (
	// conjunctiveCategory is eligible only when both of its markers appear
	// in the description, and even then only as the absolute last resort
	// behind every other partial candidate.
	conjunctiveCategory = "Fluoroscopy Guided Procedure"

	// indicatorCategory is too short a table key to trust on substring
	// containment alone; it needs at least one plain-film indicator.
	indicatorCategory = "XR Other"
)

var conjunctiveMarkers = [2]string{"fluoro", "guid"}

var plainFilmIndicators = []string{"xr", "x-ray", "xray", "radiograph", "view"}

// exhaustiveExclusionCategory is the one rule-stage category whose excluded
// keywords disqualify a condition only when ALL of them are present; every
// other category is disqualified by ANY excluded keyword. The source rule
// data treats this category's exclusions as a combined signature rather
// than independent vetoes, so the asymmetry is preserved on purpose.
const exhaustiveExclusionCategory = "CT Abdomen Pelvis"

func init() {
	sort.SliceStable(keywordTable, func(i, j int) bool {
		return len(keywordTable[i].keyword) > len(keywordTable[j].keyword)
	})
}
