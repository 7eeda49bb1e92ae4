package vision

import (
	"context"
	"fmt"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"
)

// GCPDescriber describes an image with Cloud Vision labels plus any text it contains.
type GCPDescriber struct {
	client    *vision.ImageAnnotatorClient
	maxLabels int32
}

func NewGCPDescriber(ctx context.Context, maxLabels int, opts ...option.ClientOption) (*GCPDescriber, error) {
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	if maxLabels <= 0 {
		maxLabels = 5
	}
	return &GCPDescriber{client: client, maxLabels: int32(maxLabels)}, nil
}

func (d *GCPDescriber) Describe(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("image is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image: &visionpb.Image{Content: data},
			Features: []*visionpb.Feature{
				{Type: visionpb.Feature_LABEL_DETECTION, MaxResults: d.maxLabels},
				{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
			},
		}},
	}
	resp, err := d.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return "", fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return "", nil
	}
	r0 := resp.Responses[0]
	if r0.Error != nil && r0.Error.Message != "" {
		return "", fmt.Errorf("vision annotate error: %s", r0.Error.Message)
	}

	labels := make([]string, 0, len(r0.LabelAnnotations))
	for _, l := range r0.LabelAnnotations {
		if l != nil && l.Description != "" {
			labels = append(labels, l.Description)
		}
	}
	text := ""
	if r0.FullTextAnnotation != nil {
		text = r0.FullTextAnnotation.Text
	}
	return composeDescription(labels, text), nil
}

func (d *GCPDescriber) Close() error {
	return d.client.Close()
}

func composeDescription(labels []string, text string) string {
	var parts []string
	if len(labels) > 0 {
		parts = append(parts, "Image shows: "+strings.Join(labels, ", ")+".")
	}
	if t := strings.Join(strings.Fields(text), " "); t != "" {
		parts = append(parts, "Text in image: "+t)
	}
	return strings.Join(parts, " ")
}
