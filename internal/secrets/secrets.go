// Package secrets reads provider credentials from AWS SSM Parameter Store.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
)

// ssmAPI is the part of *ssm.Client used here.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter resolves a parameter name to its decrypted value.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type ParamStore struct {
	api ssmAPI
}

func New(api ssmAPI) (*ParamStore, error) {
	if api == nil {
		return nil, errors.New("secrets: api must not be nil")
	}
	return &ParamStore{api: api}, nil
}

// NewFromEnvironment builds a ParamStore from the default AWS credential chain.
func NewFromEnvironment(ctx context.Context) (*ParamStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("secrets: load aws config: %w", err)
	}
	return New(ssm.NewFromConfig(cfg))
}

func (p *ParamStore) GetParameter(ctx context.Context, name string) (string, error) {
	if p == nil || p.api == nil {
		return "", errors.New("secrets: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("secrets: name is required")
	}

	out, err := p.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("secrets: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("secrets: parameter missing value")
	}
	return strings.TrimSpace(*out.Parameter.Value), nil
}

// ResolveAPIKey returns key unless it is empty and param names a parameter,
// in which case the parameter value is fetched.
func ResolveAPIKey(ctx context.Context, g Getter, key, param string) (string, error) {
	if key != "" || strings.TrimSpace(param) == "" {
		return key, nil
	}
	if g == nil {
		return "", errors.New("secrets: no parameter store configured")
	}
	v, err := g.GetParameter(ctx, param)
	if err != nil {
		return "", err
	}
	log.Debug().Str("param", param).Msg("provider api key loaded from parameter store")
	return v, nil
}
