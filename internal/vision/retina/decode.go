package retina

import (
	"image"
	"math"
	"sort"

	"github.com/your-org/photovault/internal/vision"
)

var strides = []int{8, 16, 32}

const anchorsPerCell = 2

// box is x1, y1, x2, y2 in original image pixels.
type box struct {
	rect  [4]float32
	score float32
}

// decodeStride turns the anchor outputs of one stride into boxes scaled to
// an origW x origH image. Anchors scoring below threshold are skipped.
func decodeStride(scores, deltas []float32, stride, input, origW, origH int, threshold float32) []box {
	var out []box
	scaleW := float32(origW) / float32(input)
	scaleH := float32(origH) / float32(input)
	st := float32(stride)
	cells := input / stride

	idx := 0
	for cy := 0; cy < cells; cy++ {
		for cx := 0; cx < cells; cx++ {
			for a := 0; a < anchorsPerCell; a++ {
				if idx >= len(scores) || idx*4+3 >= len(deltas) {
					return out
				}
				if s := scores[idx]; s >= threshold {
					ax, ay := float32(cx)*st, float32(cy)*st
					out = append(out, box{
						rect: [4]float32{
							clampF((ax-deltas[idx*4+0]*st)*scaleW, 0, float32(origW)),
							clampF((ay-deltas[idx*4+1]*st)*scaleH, 0, float32(origH)),
							clampF((ax+deltas[idx*4+2]*st)*scaleW, 0, float32(origW)),
							clampF((ay+deltas[idx*4+3]*st)*scaleH, 0, float32(origH)),
						},
						score: s,
					})
				}
				idx++
			}
		}
	}
	return out
}

// nms keeps the best-scoring box of every cluster overlapping above iouThreshold.
func nms(boxes []box, iouThreshold float32) []box {
	if len(boxes) == 0 {
		return boxes
	}
	sort.SliceStable(boxes, func(i, j int) bool { return boxes[i].score > boxes[j].score })

	keep := make([]bool, len(boxes))
	for i := range keep {
		keep[i] = true
	}
	for i := range boxes {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(boxes); j++ {
			if keep[j] && iou(boxes[i].rect, boxes[j].rect) > iouThreshold {
				keep[j] = false
			}
		}
	}

	out := make([]box, 0, len(boxes))
	for i, b := range boxes {
		if keep[i] {
			out = append(out, b)
		}
	}
	return out
}

func iou(a, b [4]float32) float32 {
	x1 := max(a[0], b[0])
	y1 := max(a[1], b[1])
	x2 := min(a[2], b[2])
	y2 := min(a[3], b[3])

	inter := max(0, x2-x1) * max(0, y2-y1)
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// toCandidates rounds boxes to whole pixels and drops those narrower or
// shorter than minSize.
func toCandidates(boxes []box, minSize int) []vision.Candidate {
	out := make([]vision.Candidate, 0, len(boxes))
	for _, b := range boxes {
		x := int(math.Round(float64(b.rect[0])))
		y := int(math.Round(float64(b.rect[1])))
		w := int(math.Round(float64(b.rect[2]))) - x
		h := int(math.Round(float64(b.rect[3]))) - y
		if w <= 0 || h <= 0 || w < minSize || h < minSize {
			continue
		}
		out = append(out, vision.Candidate{
			X: x, Y: y, Width: w, Height: h,
			Confidence: math.Round(float64(b.score)*1000) / 1000,
		})
	}
	return out
}

// imageToCHW resizes img to w x h (nearest neighbour) and lays it out as
// normalized RGB planes: (pixel - 127.5) / 128.
func imageToCHW(img image.Image, w, h int) []float32 {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	data := make([]float32, 3*w*h)
	plane := w * h
	for y := 0; y < h; y++ {
		sy := b.Min.Y + y*srcH/h
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x*srcW/w, sy).RGBA()
			i := y*w + x
			data[i] = (float32(r>>8) - 127.5) / 128
			data[plane+i] = (float32(g>>8) - 127.5) / 128
			data[2*plane+i] = (float32(bl>>8) - 127.5) / 128
		}
	}
	return data
}

func clampF(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
