package skeleton

/* COCO keypoint order
0: Nose
1: Left Eye
2: Right Eye
3: Left Ear
4: Right Ear
5: Left Shoulder
6: Right Shoulder
7: Left Elbow
8: Right Elbow
9: Left Wrist
10: Right Wrist
11: Left Hip
12: Right Hip
13: Left Knee
14: Right Knee
15: Left Ankle
16: Right Ankle
*/

const (
	Nose = iota
	LeftEye
	RightEye
	LeftEar
	RightEar
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle
)

// KeypointCount is the number of keypoints in every PersonPose
const KeypointCount = 17

var keypointNames = [KeypointCount]string{
	"nose", "left_eye", "right_eye", "left_ear", "right_ear",
	"left_shoulder", "right_shoulder", "left_elbow", "right_elbow",
	"left_wrist", "right_wrist", "left_hip", "right_hip",
	"left_knee", "right_knee", "left_ankle", "right_ankle",
}

// Keypoint is a single anatomical landmark in frame pixel space
type Keypoint struct {
	X          float64 // May be fractional or outside the frame
	Y          float64
	Confidence float64 // 0.0-1.0
}

// PersonPose holds the 17 keypoints of one detected person in COCO order
type PersonPose [KeypointCount]Keypoint

// DetectionSet is every PersonPose found by one inference call. An empty set is valid.
type DetectionSet []PersonPose

// CachedDetection is the most recent inference output and the frame index it was produced at
type CachedDetection struct {
	Detections      DetectionSet
	ProducedAtFrame int64
}

// Valid reports whether i names a keypoint
func Valid(i int) bool {
	return i >= 0 && i < KeypointCount
}

// Name returns the snake_case name of keypoint i, or "unknown"
func Name(i int) string {
	if !Valid(i) {
		return "unknown"
	}
	return keypointNames[i]
}

// Count returns how many keypoints of the pose are above threshold
func (p PersonPose) Count(threshold float64) int {
	n := 0
	for _, kp := range p {
		if kp.Confidence > threshold {
			n++
		}
	}
	return n
}
