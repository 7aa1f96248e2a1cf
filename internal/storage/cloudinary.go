package storage

import (
	"bytes"
	"context"

	cld "github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// CloudinaryUploader stores case documents in Cloudinary.
type CloudinaryUploader struct {
	cld *cld.Cloudinary
}

// NewCloudinary builds an uploader from a CLOUDINARY_URL-style DSN.
func NewCloudinary(url string) (*CloudinaryUploader, error) {
	c, err := cld.NewFromURL(url)
	if err != nil {
		return nil, err
	}
	return &CloudinaryUploader{cld: c}, nil
}

func (u *CloudinaryUploader) UploadBytes(
	ctx context.Context,
	folder string,
	filename string,
	b []byte,
) (string, error) {
	res, err := u.cld.Upload.Upload(
		ctx,
		bytes.NewReader(b),
		uploader.UploadParams{
			Folder:       folder,
			PublicID:     filename,
			ResourceType: "raw", // PDFs and other documents, not just images
		},
	)
	if err != nil {
		return "", err
	}
	return res.SecureURL, nil
}
