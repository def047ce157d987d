package dataset

import (
	"image"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
)

func TestSquareCrop(t *testing.T) {
	crop := SquareCrop([]r2.Point{{X: 200, Y: 300}, {X: 400, Y: 350}, {X: 250.7, Y: 320}}, CropMargin)
	test.That(t, crop, test.ShouldResemble, image.Rect(100, 125, 500, 525))
	test.That(t, crop.Dx(), test.ShouldEqual, crop.Dy())

	// tall boxes are widened
	crop = SquareCrop([]r2.Point{{X: 10, Y: 0}, {X: 20, Y: 100}}, 0)
	test.That(t, crop, test.ShouldResemble, image.Rect(-35, 0, 65, 100))

	// coordinates truncate toward zero
	crop = SquareCrop([]r2.Point{{X: -50.5, Y: 10.9}}, CropMargin)
	test.That(t, crop.Min, test.ShouldResemble, image.Pt(-150, -89))
	test.That(t, crop.Max, test.ShouldResemble, image.Pt(49, 110))

	// an odd difference goes to the far edge
	crop = SquareCrop([]r2.Point{{X: 0, Y: 0}, {X: 101, Y: 10}}, 0)
	test.That(t, crop, test.ShouldResemble, image.Rect(0, -45, 101, 56))
	test.That(t, crop.Dx(), test.ShouldEqual, crop.Dy())
	crop = SquareCrop([]r2.Point{{X: 3, Y: 7}, {X: 10, Y: 784}}, CropMargin)
	test.That(t, crop.Dx(), test.ShouldEqual, 977)
	test.That(t, crop.Dy(), test.ShouldEqual, 977)

	test.That(t, SquareCrop(nil, CropMargin).Empty(), test.ShouldBeTrue)
}
