package policy

// Protocol day thresholds.
const (
	VoiceUnlockDay  = 6
	ImagesUnlockDay = 15
	FinalDay        = 21
)

// Unlocks reports which content tiers are enabled for a protocol day.
type Unlocks struct {
	Voice          bool `json:"voiceUnlocked"`
	Images         bool `json:"imagesUnlocked"`
	RevealEligible bool `json:"revealEligible"`
}

// UnlocksFor maps the current protocol day to its enabled content.
// Total over all integers; each flag is monotonic in day.
func UnlocksFor(day int) Unlocks {
	return Unlocks{
		Voice:          day >= VoiceUnlockDay,
		Images:         day >= ImagesUnlockDay,
		RevealEligible: day >= FinalDay,
	}
}
