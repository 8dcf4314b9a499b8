package scanning

import (
	"context"
	"fmt"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"
)

// CloudVision implements TextRecognizer with Google Cloud Vision text detection.
// It is an OCR engine only; field extraction still uses the line heuristics.
type CloudVision struct {
	client *vision.ImageAnnotatorClient
}

// NewCloudVision creates a Cloud Vision recognizer. An empty credentialsFile
// falls back to application default credentials.
func NewCloudVision(ctx context.Context, credentialsFile string) (*CloudVision, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating cloud vision client: %v", ErrOCRUnavailable, err)
	}
	return &CloudVision{client: client}, nil
}

// Name returns the engine name
func (c *CloudVision) Name() string {
	return "cloud-vision"
}

// Recognize runs document text detection on the image
func (c *CloudVision) Recognize(ctx context.Context, pngData []byte) (string, error) {
	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: pngData},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
			},
		},
	}

	resp, err := c.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return "", fmt.Errorf("vision API call failed: %w", err)
	}
	if len(resp.Responses) == 0 {
		return "", fmt.Errorf("no response from vision API")
	}

	imgResp := resp.Responses[0]
	if imgResp.Error != nil {
		return "", fmt.Errorf("vision API error: %s", imgResp.Error.Message)
	}
	if imgResp.FullTextAnnotation == nil {
		return "", nil
	}
	return imgResp.FullTextAnnotation.Text, nil
}

// Close closes the Vision client
func (c *CloudVision) Close() error {
	return c.client.Close()
}
