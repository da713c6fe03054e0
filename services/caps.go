package services

// The cap enforcer is a second, independent line of defense applied after the
// calculator, even when the calculated value is already within nominal bounds.
// Both clips are monotonic: they can only lower a reward, never raise it.

// ClipToSupply caps a reward at the unissued pool — a single run can never
// emit more than currently exists.
func ClipToSupply(final, remaining float64) float64 {
	if remaining < 0 {
		remaining = 0
	}
	if final > remaining {
		return round2(remaining)
	}
	return final
}

// ClipToDailyCap caps a reward at whatever headroom the user has left under
// the per-user daily run cap. earnedToday is the sum of the user's run-sourced
// ledger entries for the current calendar day.
func ClipToDailyCap(final, earnedToday, dailyUserCap float64) float64 {
	headroom := dailyUserCap - earnedToday
	if headroom < 0 {
		headroom = 0
	}
	if final > headroom {
		final = headroom
	}
	return round2(final)
}
