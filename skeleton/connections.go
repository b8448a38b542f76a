package skeleton

// Group is the body region a bone belongs to
type Group int

const (
	GroupHead Group = iota
	GroupShoulders
	GroupArms
	GroupTorso
	GroupLegs
)

func (g Group) String() string {
	switch g {
	case GroupHead:
		return "head"
	case GroupShoulders:
		return "shoulders"
	case GroupArms:
		return "arms"
	case GroupTorso:
		return "torso"
	case GroupLegs:
		return "legs"
	default:
		return "unknown"
	}
}

// Bone connects keypoint A to keypoint B
type Bone struct {
	A     int
	B     int
	Group Group
}

// connections is the fixed skeleton graph. It is never mutated; callers get copies.
var connections = [...]Bone{
	{Nose, LeftEye, GroupHead},
	{Nose, RightEye, GroupHead},
	{LeftShoulder, RightShoulder, GroupShoulders},
	{LeftShoulder, LeftElbow, GroupArms},
	{LeftElbow, LeftWrist, GroupArms},
	{RightShoulder, RightElbow, GroupArms},
	{RightElbow, RightWrist, GroupArms},
	{LeftShoulder, LeftHip, GroupTorso},
	{RightShoulder, RightHip, GroupTorso},
	{LeftHip, RightHip, GroupTorso},
	{LeftHip, LeftKnee, GroupLegs},
	{LeftKnee, LeftAnkle, GroupLegs},
	{RightHip, RightKnee, GroupLegs},
	{RightKnee, RightAnkle, GroupLegs},
}

// BoneCount is the number of bones in the skeleton graph
const BoneCount = len(connections)

// Connections returns a copy of the skeleton graph
func Connections() []Bone {
	out := make([]Bone, len(connections))
	copy(out, connections[:])
	return out
}

// Each calls fn for every bone in table order until fn returns false
func Each(fn func(Bone) bool) {
	for _, b := range connections {
		if !fn(b) {
			return
		}
	}
}
