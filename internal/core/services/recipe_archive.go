// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package services contains the application logic behind the HTTP and
// Pub/Sub surfaces. This file, `recipe_archive.go`, defines the
// RecipeArchiveService, which hands out time limited download URLs for the
// recipe JSON documents archived in Cloud Storage.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/iam/credentials/apiv1/credentialspb"
	"cloud.google.com/go/storage"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/cloud"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/commands"
)

const defaultSignedURLLifetime = 15 * time.Minute

// ErrArchiveDisabled means storage.archive_bucket is not configured.
var ErrArchiveDisabled = errors.New("recipe archiving is not enabled")

// RecipeArchiveService signs GET URLs for archived recipes.
type RecipeArchiveService struct {
	StorageClient *storage.Client                   // Client for the archive bucket.
	IAMClient     *credentials.IamCredentialsClient // Signs URLs without a local key; may be nil.
	SignerEmail   string                            // Service account the URLs are signed as.
	Bucket        string
	Prefix        string
	Expires       time.Duration
}

func NewRecipeArchiveService(config *cloud.Config, serviceClients *cloud.ServiceClients) *RecipeArchiveService {
	expires := defaultSignedURLLifetime
	if config.Storage.SignedURLMinutes > 0 {
		expires = time.Duration(config.Storage.SignedURLMinutes) * time.Minute
	}
	return &RecipeArchiveService{
		StorageClient: serviceClients.StorageClient,
		IAMClient:     serviceClients.IAMClient,
		SignerEmail:   config.Application.SignerServiceAccountEmail,
		Bucket:        config.Storage.ArchiveBucket,
		Prefix:        config.Storage.ArchivePrefix,
		Expires:       expires,
	}
}

// Enabled reports whether recipes are archived at all.
func (s *RecipeArchiveService) Enabled() bool {
	return s != nil && s.Bucket != "" && s.StorageClient != nil
}

// SignedURL returns a download URL for the archived recipe of jobID, or
// ErrJobNotFound when nothing was archived under that id.
func (s *RecipeArchiveService) SignedURL(ctx context.Context, jobID string) (string, error) {
	if !s.Enabled() {
		return "", ErrArchiveDisabled
	}
	objectName := commands.ArchiveObjectName(s.Prefix, jobID)
	if _, err := s.StorageClient.Bucket(s.Bucket).Object(objectName).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return "", ErrJobNotFound
		}
		return "", fmt.Errorf("stat gs://%s/%s: %w", s.Bucket, objectName, err)
	}

	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(s.Expires),
	}
	// On GCP there is no private key on disk; the IAM Credentials API signs
	// on behalf of the service account.
	if s.IAMClient != nil && s.SignerEmail != "" {
		opts.GoogleAccessID = s.SignerEmail
		opts.SignBytes = func(b []byte) ([]byte, error) {
			req := &credentialspb.SignBlobRequest{
				Name:    fmt.Sprintf("projects/-/serviceAccounts/%s", s.SignerEmail),
				Payload: b,
			}
			resp, err := s.IAMClient.SignBlob(ctx, req)
			if err != nil {
				return nil, fmt.Errorf("IAMClient.SignBlob: %w", err)
			}
			return resp.SignedBlob, nil
		}
	}

	u, err := s.StorageClient.Bucket(s.Bucket).SignedURL(objectName, opts)
	if err != nil {
		return "", fmt.Errorf("Bucket(%q).SignedURL(%q): %w", s.Bucket, objectName, err)
	}
	return u, nil
}
