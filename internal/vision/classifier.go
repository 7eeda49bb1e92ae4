package vision

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/image/draw"
)

// ImageNet normalization used by torchvision MobileNet exports.
var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

const inputSide = 224

type LabelScore struct {
	Label string
	Score float32 // softmax probability
}

// LocalDescriber labels images with an ONNX classifier so image turns work
// without a cloud vision account. The session is created on first use.
type LocalDescriber struct {
	modelPath  string
	labelsPath string
	libPath    string
	topK       int

	initOnce sync.Once
	initErr  error

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	labels  []string
}

func NewLocalDescriber(modelPath, labelsPath, onnxLibPath string, topK int) *LocalDescriber {
	if topK <= 0 {
		topK = 3
	}
	return &LocalDescriber{
		modelPath:  modelPath,
		labelsPath: labelsPath,
		libPath:    onnxLibPath,
		topK:       topK,
	}
}

func (d *LocalDescriber) init() error {
	d.initOnce.Do(func() {
		d.initErr = d.load()
	})
	return d.initErr
}

func (d *LocalDescriber) load() error {
	if d.libPath != "" {
		ort.SetSharedLibraryPath(d.libPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("onnx init environment: %w", err)
		}
	}

	labels, err := loadLabels(d.labelsPath)
	if err != nil {
		return fmt.Errorf("load labels: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(d.modelPath)
	if err != nil {
		return fmt.Errorf("onnx model info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return fmt.Errorf("onnx model has no inputs or outputs")
	}

	input, err := ort.NewEmptyTensor[float32](inputs[0].Dimensions)
	if err != nil {
		return fmt.Errorf("onnx input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](outputs[0].Dimensions)
	if err != nil {
		input.Destroy()
		return fmt.Errorf("onnx output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(d.modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		output.Destroy()
		input.Destroy()
		return fmt.Errorf("onnx session: %w", err)
	}

	d.labels = labels
	d.input = input
	d.output = output
	d.session = session
	return nil
}

func loadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var labels []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		labels = append(labels, strings.TrimSpace(sc.Text()))
	}
	return labels, sc.Err()
}

// Describe returns a one-line description built from the top labels.
func (d *LocalDescriber) Describe(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	scores, err := d.Classify(data)
	if err != nil {
		return "", err
	}
	return formatLabels(scores), nil
}

func (d *LocalDescriber) Classify(data []byte) ([]LabelScore, error) {
	if err := d.init(); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	pixels := preprocess(img)

	d.mu.Lock()
	defer d.mu.Unlock()
	in := d.input.GetData()
	if len(in) < len(pixels) {
		return nil, fmt.Errorf("input tensor size %d < preprocessed %d", len(in), len(pixels))
	}
	copy(in, pixels)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}
	return topLabels(d.output.GetData(), d.labels, d.topK), nil
}

func (d *LocalDescriber) Close() {
	if d.session != nil {
		_ = d.session.Destroy()
	}
	if d.input != nil {
		_ = d.input.Destroy()
	}
	if d.output != nil {
		_ = d.output.Destroy()
	}
}

func topLabels(logits []float32, labels []string, k int) []LabelScore {
	probs := softmax(logits)
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return probs[idx[a]] > probs[idx[b]] })

	if k > len(idx) {
		k = len(idx)
	}
	out := make([]LabelScore, 0, k)
	for _, i := range idx[:k] {
		label := fmt.Sprintf("class %d", i)
		if i < len(labels) && labels[i] != "" {
			label = labels[i]
		}
		out = append(out, LabelScore{Label: label, Score: probs[i]})
	}
	return out
}

func softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxLogit))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

func formatLabels(scores []LabelScore) string {
	if len(scores) == 0 {
		return ""
	}
	parts := make([]string, 0, len(scores))
	for _, s := range scores {
		parts = append(parts, fmt.Sprintf("%s (%.0f%%)", s.Label, s.Score*100))
	}
	return "Image likely shows: " + strings.Join(parts, ", ")
}

// preprocess scales img to 224x224 and returns NCHW float32 with ImageNet normalization.
func preprocess(img image.Image) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, inputSide, inputSide))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	const plane = inputSide * inputSide
	out := make([]float32, 3*plane)
	for y := 0; y < inputSide; y++ {
		for x := 0; x < inputSide; x++ {
			i := y*inputSide + x
			c := dst.RGBAAt(x, y)
			out[i] = (float32(c.R)/255 - imagenetMean[0]) / imagenetStd[0]
			out[plane+i] = (float32(c.G)/255 - imagenetMean[1]) / imagenetStd[1]
			out[2*plane+i] = (float32(c.B)/255 - imagenetMean[2]) / imagenetStd[2]
		}
	}
	return out
}
