package storage

import (
	"fmt"
	"strings"
	"sync"
)

// AssetPurpose captures high-level intent for storage layout decisions.
type AssetPurpose string

const (
	PurposeAvatar       AssetPurpose = "avatar"
	PurposeProductImage AssetPurpose = "product-image"
	PurposeProductPDF   AssetPurpose = "product-pdf"
	PurposeSiteAsset    AssetPurpose = "site-asset"
)

// PathParams provide required identifiers to compose storage object keys.
type PathParams struct {
	OwnerID   string
	UploadID  string
	AssetType string
	FileName  string
}

// PathBuilder composes the object path for a given asset purpose.
type PathBuilder func(PathParams) (string, error)

var (
	pathBuilders = map[AssetPurpose]PathBuilder{
		PurposeAvatar:       buildAvatarPath,
		PurposeProductImage: productPathBuilder("images"),
		PurposeProductPDF:   productPathBuilder("files"),
		PurposeSiteAsset:    buildSiteAssetPath,
	}
	pathBuildersMu sync.RWMutex
)

// RegisterPathBuilder overrides or registers a builder for a specific purpose.
func RegisterPathBuilder(purpose AssetPurpose, builder PathBuilder) {
	pathBuildersMu.Lock()
	defer pathBuildersMu.Unlock()
	if builder == nil {
		delete(pathBuilders, purpose)
		return
	}
	pathBuilders[purpose] = builder
}

// BuildObjectPath resolves the storage object path for the given purpose.
func BuildObjectPath(purpose AssetPurpose, params PathParams) (string, error) {
	pathBuildersMu.RLock()
	builder, ok := pathBuilders[purpose]
	pathBuildersMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("storage: unsupported asset purpose %q", purpose)
	}
	return builder(params)
}

// avatars live at a stable name per user so a new upload replaces the old one
func buildAvatarPath(params PathParams) (string, error) {
	ownerID, err := validateSegment("ownerID", params.OwnerID)
	if err != nil {
		return "", err
	}
	fileName, err := validateFileName(params.FileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("avatars/%s/%s", ownerID, fileName), nil
}

func productPathBuilder(kind string) PathBuilder {
	return func(params PathParams) (string, error) {
		ownerID, err := validateSegment("ownerID", params.OwnerID)
		if err != nil {
			return "", err
		}
		uploadID, err := validateSegment("uploadID", params.UploadID)
		if err != nil {
			return "", err
		}
		fileName, err := validateFileName(params.FileName)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("products/%s/%s/%s/%s", ownerID, kind, uploadID, fileName), nil
	}
}

func buildSiteAssetPath(params PathParams) (string, error) {
	assetType := strings.ToLower(strings.TrimSpace(params.AssetType))
	if assetType == "" {
		assetType = "gallery"
	}
	assetType, err := validateSegment("assetType", assetType)
	if err != nil {
		return "", err
	}
	uploadID, err := validateSegment("uploadID", params.UploadID)
	if err != nil {
		return "", err
	}
	fileName, err := validateFileName(params.FileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("site/%s/%s/%s", assetType, uploadID, fileName), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}

func validateFileName(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: fileName is required")
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: fileName contains invalid path characters")
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: fileName contains invalid traversal sequence")
	}
	return value, nil
}
