package overlay

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"posecam/skeleton"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

const (
	testWidth  = 320
	testHeight = 240
)

func blankFrame(t *testing.T) gocv.Mat {
	t.Helper()
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), testHeight, testWidth, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { img.Close() })
	return img
}

func isLit(img gocv.Mat, x, y int) bool {
	v := img.GetVecbAt(y, x)
	return v[0] != 0 || v[1] != 0 || v[2] != 0
}

// standingPose spreads the keypoints over a 100x200 box with its top-left corner at (x, y)
func standingPose(x, y, confidence float64) skeleton.PersonPose {
	layout := [skeleton.KeypointCount][2]float64{
		{50, 10},
		{45, 5}, {55, 5},
		{40, 8}, {60, 8},
		{30, 40}, {70, 40},
		{20, 70}, {80, 70},
		{15, 100}, {85, 100},
		{38, 110}, {62, 110},
		{36, 150}, {64, 150},
		{35, 195}, {65, 195},
	}
	var p skeleton.PersonPose
	for i, xy := range layout {
		p[i] = skeleton.Keypoint{X: x + xy[0], Y: y + xy[1], Confidence: confidence}
	}
	return p
}

func TestRenderEmptyDetectionsIsIdentity(t *testing.T) {
	img := blankFrame(t)
	gocv.Rectangle(&img, image.Rect(10, 10, 60, 60), color.RGBA{R: 200, G: 10, B: 10, A: 255}, -1)
	before := img.ToBytes()

	r := NewRenderer()
	require.NoError(t, r.Render(&img, nil, DefaultConfidenceThreshold))
	require.NoError(t, r.Render(&img, skeleton.DetectionSet{}, DefaultConfidenceThreshold))

	assert.Equal(t, before, img.ToBytes())
}

func TestRenderIsIdempotent(t *testing.T) {
	dets := skeleton.DetectionSet{standingPose(20, 20, 0.9), standingPose(180, 20, 0.7)}
	r := NewRenderer()

	a := blankFrame(t)
	b := blankFrame(t)
	require.NoError(t, r.Render(&a, dets, 0.5))
	require.NoError(t, r.Render(&b, dets, 0.5))

	assert.Equal(t, a.ToBytes(), b.ToBytes())
}

func TestRenderKeypointAtThresholdIsNotDrawn(t *testing.T) {
	img := blankFrame(t)
	var pose skeleton.PersonPose
	pose[skeleton.Nose] = skeleton.Keypoint{X: 100, Y: 100, Confidence: 0.5}

	require.NoError(t, NewRenderer().Render(&img, skeleton.DetectionSet{pose}, 0.5))
	assert.False(t, isLit(img, 100, 100))

	pose[skeleton.Nose].Confidence = 0.5000001
	require.NoError(t, NewRenderer().Render(&img, skeleton.DetectionSet{pose}, 0.5))
	assert.True(t, isLit(img, 100, 100))
}

func TestRenderPartialBoneIsNotDrawn(t *testing.T) {
	img := blankFrame(t)
	var pose skeleton.PersonPose
	pose[skeleton.LeftShoulder] = skeleton.Keypoint{X: 20, Y: 120, Confidence: 0.51}
	pose[skeleton.RightShoulder] = skeleton.Keypoint{X: 300, Y: 120, Confidence: 0.49}

	require.NoError(t, NewRenderer().Render(&img, skeleton.DetectionSet{pose}, 0.5))

	assert.True(t, isLit(img, 20, 120), "confident shoulder marker")
	assert.False(t, isLit(img, 300, 120), "unconfident shoulder marker")
	assert.False(t, isLit(img, 160, 120), "bone between them")
}

func TestRenderFullBoneIsDrawn(t *testing.T) {
	img := blankFrame(t)
	var pose skeleton.PersonPose
	pose[skeleton.LeftShoulder] = skeleton.Keypoint{X: 20, Y: 120, Confidence: 0.9}
	pose[skeleton.RightShoulder] = skeleton.Keypoint{X: 300, Y: 120, Confidence: 0.9}

	require.NoError(t, NewRenderer().Render(&img, skeleton.DetectionSet{pose}, 0.5))
	assert.True(t, isLit(img, 160, 120))
}

func TestRenderTwoPeopleOneInvisible(t *testing.T) {
	img := blankFrame(t)
	confident := standingPose(10, 20, 1.0)
	invisible := standingPose(200, 20, 0.0)

	require.NoError(t, NewRenderer().Render(&img, skeleton.DetectionSet{confident, invisible}, 0.5))

	for i, kp := range confident {
		assert.True(t, isLit(img, int(kp.X), int(kp.Y)), "person 1 %s", skeleton.Name(i))
	}
	// Midpoint of left hip to left knee
	assert.True(t, isLit(img, 10+37, 20+130))

	right := img.Region(image.Rect(190, 0, testWidth, testHeight))
	defer right.Close()
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(right, &gray, gocv.ColorBGRToGray)
	assert.Zero(t, gocv.CountNonZero(gray), "person 2 must leave no marks")
}

func TestRenderOutOfBoundsDoesNotFail(t *testing.T) {
	img := blankFrame(t)
	var pose skeleton.PersonPose
	pose[skeleton.LeftHip] = skeleton.Keypoint{X: -500, Y: 5000, Confidence: 0.9}
	pose[skeleton.RightHip] = skeleton.Keypoint{X: 100.4, Y: 99.6, Confidence: 0.9}

	require.NoError(t, NewRenderer().Render(&img, skeleton.DetectionSet{pose}, 0.5))
	assert.True(t, isLit(img, 100, 100))
}

func TestRenderSkipsNonFiniteKeypoints(t *testing.T) {
	img := blankFrame(t)
	pose := standingPose(10, 20, 0.9)
	pose[skeleton.LeftWrist].X = math.NaN()
	pose[skeleton.RightWrist].Y = math.Inf(1)
	pose[skeleton.LeftAnkle].X = 1e12

	err := NewRenderer().Render(&img, skeleton.DetectionSet{pose}, 0.5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRender))

	var renderErr *RenderError
	require.True(t, errors.As(err, &renderErr))
	assert.Equal(t, 0, renderErr.Person)

	// The rest of the skeleton is still drawn
	nose := pose[skeleton.Nose]
	assert.True(t, isLit(img, int(nose.X), int(nose.Y)))
}

func TestRenderEmptyFrame(t *testing.T) {
	img := gocv.NewMat()
	defer img.Close()

	err := NewRenderer().Render(&img, skeleton.DetectionSet{standingPose(0, 0, 1)}, 0.5)
	assert.ErrorIs(t, err, ErrRender)
}

func TestStatusText(t *testing.T) {
	s := Status{FPS: 29.97, People: 2, CacheAge: 1}
	assert.Equal(t, "30.0 FPS | 2 PEOPLE | CACHED +1", s.Text())

	s.Refreshed = true
	s.CacheAge = 0
	assert.Equal(t, "30.0 FPS | 2 PEOPLE | INFER +0", s.Text())

	s.Stale = true
	assert.Contains(t, s.Text(), "STALE")
}
