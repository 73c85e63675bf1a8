package scorer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sagemakerruntime"
	"github.com/aws/aws-sdk-go/service/sagemakerruntime/sagemakerruntimeiface"

	"github.com/gridlock-ai/sentinel/internal/domain"
)

type sageMakerRequest struct {
	Instances []sageMakerInstance `json:"instances"`
}

type sageMakerInstance struct {
	Features []float64 `json:"features"`
}

type sageMakerResponse struct {
	Scores []struct {
		Score float64 `json:"score"`
	} `json:"scores"`
}

// SageMaker scores readings against a hosted SageMaker endpoint.
type SageMaker struct {
	api      sagemakerruntimeiface.SageMakerRuntimeAPI
	endpoint string
}

// NewSageMaker builds a client for endpoint in region using the default
// credential chain.
func NewSageMaker(region, endpoint string) (*SageMaker, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("sagemaker endpoint name is required")
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return &SageMaker{api: sagemakerruntime.New(sess), endpoint: endpoint}, nil
}

// NewSageMakerWithAPI uses an existing runtime client.
func NewSageMakerWithAPI(api sagemakerruntimeiface.SageMakerRuntimeAPI, endpoint string) *SageMaker {
	return &SageMaker{api: api, endpoint: endpoint}
}

// Score invokes the endpoint with the reading's feature vector.
func (s *SageMaker) Score(ctx context.Context, r domain.Reading) (float64, error) {
	body, err := json.Marshal(sageMakerRequest{
		Instances: []sageMakerInstance{{Features: r.Features()}},
	})
	if err != nil {
		return 0, err
	}
	out, err := s.api.InvokeEndpointWithContext(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(s.endpoint),
		Body:         body,
		ContentType:  aws.String("application/json"),
		Accept:       aws.String("application/json"),
	})
	if err != nil {
		return 0, fmt.Errorf("invoke endpoint %s: %w", s.endpoint, err)
	}

	var resp sageMakerResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return 0, fmt.Errorf("parse endpoint response: %w", err)
	}
	if len(resp.Scores) == 0 {
		return 0, fmt.Errorf("endpoint %s returned no scores", s.endpoint)
	}
	return checkScore(resp.Scores[0].Score)
}
