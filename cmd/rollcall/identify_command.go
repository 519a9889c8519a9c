package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"rollcall/internal/faces"
	"rollcall/internal/match"
)

var errInvalidImage = errors.New("invalid image")

// identifyResult is printed as JSON by `rollcall identify`.
type identifyResult struct {
	Success    bool    `json:"success"`
	Matched    bool    `json:"matched"`
	IdentityID *int64  `json:"identity_id"`
	Confidence float64 `json:"confidence"`
	Label      string  `json:"label,omitempty"`
	Message    string  `json:"message,omitempty"`
}

func newIdentifyCommand(ctx *commandContext) *cobra.Command {
	var imagePath string
	var imageBase64 string
	var threshold float64
	var expectedID int64

	cmd := &cobra.Command{
		Use:   "identify",
		Short: "Match one still image against the roster and print the result as JSON",
		Long: `Match one still image against the roster.

The result is always printed as JSON. An image that cannot be matched
(no face, unreadable data, empty roster) is reported with success=false
and exits zero; only operational failures such as an unreachable face
service exit non-zero.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			fail := func(message string) error {
				return writeJSON(cmd, identifyResult{Message: message})
			}

			data, err := identifyInput(imagePath, imageBase64)
			if errors.Is(err, errInvalidImage) {
				return fail("invalid image")
			}
			if err != nil {
				return err
			}
			if len(data) == 0 {
				return fail("no image provided")
			}
			img, err := faces.DecodeImage(data)
			if err != nil {
				return fail("invalid image")
			}

			roster, err := buildRoster(cmd.Context(), ctx, nil, false)
			if err != nil {
				return err
			}
			if roster.snapshot.Len() == 0 {
				return fail("no reference faces loaded")
			}

			client := faces.NewClient(cfg.Recognition.FaceServiceURL, cfg.RequestTimeout())
			detected, err := client.Analyze(cmd.Context(), img)
			if err != nil {
				return fmt.Errorf("analyze image: %w", err)
			}
			if len(detected) == 0 {
				return fail("no face detected")
			}

			if !cmd.Flags().Changed("threshold") {
				threshold = cfg.Recognition.Threshold
			}
			var expected *int64
			if cmd.Flags().Changed("expected-id") {
				expected = &expectedID
			}
			engine := match.New(match.OptionsFromConfig(cfg, ctx.logger()))
			v := engine.Verify(detected, roster.snapshot, threshold, expected)
			return writeJSON(cmd, identifyResult{
				Success:    true,
				Matched:    v.Matched,
				IdentityID: v.IdentityID,
				Confidence: v.Confidence,
				Label:      v.Label,
			})
		},
	}
	cmd.Flags().StringVar(&imagePath, "image", "", "Path to the image file")
	cmd.Flags().StringVar(&imageBase64, "image-base64", "", "Base64 image data, optionally as a data: URL")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Similarity threshold (defaults to recognition.threshold)")
	cmd.Flags().Int64Var(&expectedID, "expected-id", 0, "Only report a match for this identity id")
	cmd.MarkFlagsMutuallyExclusive("image", "image-base64")
	return cmd
}

// identifyInput returns the raw image bytes from whichever input was given.
// A missing file is an operational error; empty input returns nil.
func identifyInput(path, encoded string) ([]byte, error) {
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		return data, nil
	}
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, nil
	}
	if strings.HasPrefix(encoded, "data:") {
		if comma := strings.IndexByte(encoded, ','); comma >= 0 {
			encoded = encoded[comma+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errInvalidImage
	}
	return data, nil
}
