package match

import "rollcall/internal/faces"

// Verification is the outcome of checking one still image against the
// roster.
type Verification struct {
	Matched    bool    `json:"matched"`
	IdentityID *int64  `json:"identity_id"`
	Confidence float64 `json:"confidence"`
	Label      string  `json:"label,omitempty"`
}

// Verify matches the largest detected face against snap at threshold. When
// expected is set the result only counts as matched if the identity agrees.
// The best identity is still reported for a mismatch.
func (e *Engine) Verify(detected []faces.DetectedFace, snap *faces.Snapshot, threshold float64, expected *int64) Verification {
	primary, ok := largest(detected)
	if !ok {
		return Verification{}
	}
	res, ok := e.BestAbove(primary, snap, threshold)
	if !ok {
		return Verification{}
	}
	v := Verification{
		Matched:    true,
		IdentityID: res.IdentityID,
		Confidence: res.Score,
		Label:      res.Label,
	}
	if expected != nil {
		v.Matched = res.IdentityID != nil && *res.IdentityID == *expected
	}
	return v
}

func largest(detected []faces.DetectedFace) (faces.DetectedFace, bool) {
	best := -1
	for i, f := range detected {
		if len(f.Feature) == 0 {
			continue
		}
		if best < 0 || f.Region.Area() > detected[best].Region.Area() {
			best = i
		}
	}
	if best < 0 {
		return faces.DetectedFace{}, false
	}
	return detected[best], true
}
