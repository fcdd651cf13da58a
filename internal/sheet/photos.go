package sheet

// DefaultRequiredPhotos is the number of vehicle photos a sheet needs before submission.
const DefaultRequiredPhotos = 5

// PhotoTracker counts attached required photos against a fixed requirement.
type PhotoTracker struct {
	required int
	attached int
}

// NewPhotoTracker returns a tracker needing required photos with attached already present.
func NewPhotoTracker(required, attached int) PhotoTracker {
	if required < 0 {
		required = 0
	}
	if attached < 0 {
		attached = 0
	}
	return PhotoTracker{required: required, attached: attached}
}

func (p PhotoTracker) AttachedCount() int { return p.attached }

func (p PhotoTracker) RequiredCount() int { return p.required }

func (p PhotoTracker) IsSatisfied() bool { return p.attached >= p.required }

// Missing returns how many photos are still needed, never negative.
func (p PhotoTracker) Missing() int {
	if p.IsSatisfied() {
		return 0
	}
	return p.required - p.attached
}
