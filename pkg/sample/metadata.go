package sample

import (
	"encoding/json"
	"time"

	"github.com/marmos91/triage/pkg/model"
)

// metadataDoc is the on-disk JSON shape for a sample's metadata file,
// written alongside the sample bytes at
// samples/<ab>/<cd>/<sha256>.json.
type metadataDoc struct {
	SHA256           string    `json:"sha256"`
	SHA1             string    `json:"sha1"`
	MD5              string    `json:"md5"`
	OriginalFilename string    `json:"original_filename"`
	SanitizedName    string    `json:"sanitized_name"`
	Size             int64     `json:"size"`
	Variant          string    `json:"variant"`
	Subtype          string    `json:"subtype"`
	MIME             string    `json:"mime"`
	UploadedAt       time.Time `json:"uploaded_at"`
	Lifecycle        string    `json:"lifecycle"`
	Tags             []string  `json:"tags"`
	Notes            string    `json:"notes"`
	AnalysisCount    int       `json:"analysis_count"`
}

func toDoc(s model.Sample) metadataDoc {
	return metadataDoc{
		SHA256:           s.SHA256,
		SHA1:             s.SHA1,
		MD5:              s.MD5,
		OriginalFilename: s.OriginalFilename,
		SanitizedName:    s.SanitizedName,
		Size:             s.Size,
		Variant:          string(s.Type.Variant),
		Subtype:          s.Type.Subtype,
		MIME:             s.Type.MIME,
		UploadedAt:       s.UploadedAt,
		Lifecycle:        string(s.Lifecycle),
		Tags:             s.Tags,
		Notes:            s.Notes,
		AnalysisCount:    s.AnalysisCount,
	}
}

func (d metadataDoc) toSample() model.Sample {
	return model.Sample{
		SHA256:           d.SHA256,
		SHA1:             d.SHA1,
		MD5:              d.MD5,
		OriginalFilename: d.OriginalFilename,
		SanitizedName:    d.SanitizedName,
		Size:             d.Size,
		Type: model.DetectedType{
			Variant: model.FileTypeVariant(d.Variant),
			Subtype: d.Subtype,
			MIME:    d.MIME,
		},
		UploadedAt:    d.UploadedAt,
		Lifecycle:     model.SampleLifecycle(d.Lifecycle),
		Tags:          d.Tags,
		Notes:         d.Notes,
		AnalysisCount: d.AnalysisCount,
	}
}

func marshalMetadata(s model.Sample) ([]byte, error) {
	return json.MarshalIndent(toDoc(s), "", "  ")
}

func unmarshalMetadata(data []byte) (model.Sample, error) {
	var d metadataDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return model.Sample{}, err
	}
	return d.toSample(), nil
}
