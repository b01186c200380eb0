package segment

import "route-replay/internal/route"

// Flags select which resources a Segment loads.
type Flags uint32

const (
	// FlagDriverCam loads the driver camera.
	FlagDriverCam Flags = 1 << iota
	// FlagWideRoadCam loads the wide road camera.
	FlagWideRoadCam
	// FlagQCamera loads the low-res camera instead of the road camera.
	FlagQCamera
	// FlagNoFileCache disables the collaborators' local cache.
	FlagNoFileCache
)

// Has reports whether every bit of f2 is set in f.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

// Slot is one of the four loadable resources of a segment.
type Slot int

const (
	RoadCamSlot Slot = iota
	DriverCamSlot
	WideRoadCamSlot
	LogSlot

	numSlots
)

// MaxCameras is the number of camera slots; slots below it are cameras.
const MaxCameras = int(LogSlot)

var slotNames = [numSlots]string{"road_cam", "driver_cam", "wide_road_cam", "log"}

func (s Slot) String() string {
	if s < 0 || s >= numSlots {
		return "unknown"
	}
	return slotNames[s]
}

// IsCamera reports whether s is a camera slot.
func (s Slot) IsCamera() bool { return int(s) < MaxCameras && s >= 0 }

// Selection is the locator chosen for each slot; absent slots are not loaded.
type Selection [numSlots]route.Locator

// Select applies the preference policy to files:
//   - road: low-res camera if FlagQCamera is set or the road camera is missing
//   - driver and wide road: only when their flag is set
//   - log: raw log, falling back to the compact log
func Select(files route.SegmentFiles, flags Flags) Selection {
	var sel Selection

	if flags.Has(FlagQCamera) || files.Get(route.RoadCam).IsZero() {
		sel[RoadCamSlot] = files.Get(route.QCamera)
	} else {
		sel[RoadCamSlot] = files.Get(route.RoadCam)
	}
	if flags.Has(FlagDriverCam) {
		sel[DriverCamSlot] = files.Get(route.DriverCam)
	}
	if flags.Has(FlagWideRoadCam) {
		sel[WideRoadCamSlot] = files.Get(route.WideRoadCam)
	}
	if log := files.Get(route.RawLog); !log.IsZero() {
		sel[LogSlot] = log
	} else {
		sel[LogSlot] = files.Get(route.CompactLog)
	}
	return sel
}

// Count returns the number of slots with a locator.
func (s Selection) Count() int {
	n := 0
	for _, l := range s {
		if !l.IsZero() {
			n++
		}
	}
	return n
}
