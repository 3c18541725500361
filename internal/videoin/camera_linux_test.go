//go:build linux

package videoin

import "testing"

func TestYuyvToI420_LumaAndChromaPlanes(t *testing.T) {
	const width, height = 4, 2
	// Two YUYV macropixels per row, each packed as Y0 U Y1 V.
	yuyv := []byte{
		10, 100, 20, 110, 30, 120, 40, 130,
		50, 140, 60, 150, 70, 160, 80, 170,
	}
	i420 := make([]byte, width*height*3/2)

	yuyvToI420(yuyv, i420, width, height)

	wantY := []byte{10, 20, 30, 40, 50, 60, 70, 80}
	gotY := i420[:width*height]
	for i := range wantY {
		if gotY[i] != wantY[i] {
			t.Fatalf("Y[%d] = %d, want %d", i, gotY[i], wantY[i])
		}
	}

	uSize := width * height / 4
	gotU := i420[width*height : width*height+uSize]
	gotV := i420[width*height+uSize:]
	wantU := []byte{100, 120}
	wantV := []byte{110, 130}
	for i := range wantU {
		if gotU[i] != wantU[i] {
			t.Fatalf("U[%d] = %d, want %d", i, gotU[i], wantU[i])
		}
		if gotV[i] != wantV[i] {
			t.Fatalf("V[%d] = %d, want %d", i, gotV[i], wantV[i])
		}
	}
}
