package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/room4-2/shopchat/collab"
)

func newTryOnCmd(a *app) *cobra.Command {
	var (
		model     string
		upper     string
		lower     string
		selection string
		drop      []string
	)

	cmd := &cobra.Command{
		Use:   "tryon",
		Short: "Run the virtual try-on workflow for a photo and garment images",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.WebhookURL == "" {
				return errors.New("WEBHOOK_URL is not configured")
			}
			ctx := cmd.Context()

			modelURL := model
			if !isRemote(model) {
				url, err := uploadFile(ctx, collab.NewUploader(a.cfg.UploadURL, nil), model)
				if err != nil {
					return errors.Wrap(err, "upload model photo")
				}
				modelURL = url
				log.Info().Str("component", "cli").Str("url", url).Msg("model photo uploaded")
			}

			var saved []collab.Garment
			if selection != "" {
				var err error
				if saved, err = loadSelection(selection); err != nil {
					return err
				}
			}
			selected, err := buildSelection(saved, upper, lower, drop)
			if err != nil {
				return err
			}

			result, err := collab.NewWebhook(a.cfg.WebhookURL, nil).TryOn(ctx, collab.NewTryOnRequest(modelURL, selected))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			t := defaultTheme()
			fmt.Fprintln(out, t.Assistant.Render(result.Status))
			switch {
			case result.Image != "":
				fmt.Fprintln(out, result.Image)
			case result.LocalPreview:
				fmt.Fprintln(out, t.Muted.Render("no generated image returned; showing the selected garments instead"))
				for _, g := range selected {
					fmt.Fprintf(out, "  %s: %s\n", g.GarmentType, g.Image)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "Model photo: a local file (uploaded first) or an http(s) URL")
	cmd.Flags().StringVar(&upper, "upper", "", "Upper-body garment image URL")
	cmd.Flags().StringVar(&lower, "lower", "", "Lower-body garment image URL")
	cmd.Flags().StringVar(&selection, "selection", "", "JSON file with a saved garment selection")
	cmd.Flags().StringSliceVar(&drop, "clear", nil, "Garment types to drop from the selection (upper_body, lower_body)")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

func loadSelection(path string) ([]collab.Garment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read selection")
	}
	var garments []collab.Garment
	if err := sonic.Unmarshal(data, &garments); err != nil {
		return nil, errors.Wrap(err, "parse selection")
	}
	return garments, nil
}

// buildSelection applies the garment flags to a saved selection: --upper/--lower replace the
// garment of that type, --clear removes types. At least one garment must remain.
func buildSelection(saved []collab.Garment, upper, lower string, drop []string) ([]collab.Garment, error) {
	selected := saved
	if upper != "" {
		selected = collab.SelectGarment(selected, collab.Garment{ID: 1, Name: "upper body", Image: upper, GarmentType: collab.GarmentUpperBody})
	}
	if lower != "" {
		selected = collab.SelectGarment(selected, collab.Garment{ID: 2, Name: "lower body", Image: lower, GarmentType: collab.GarmentLowerBody})
	}
	for _, garmentType := range drop {
		switch garmentType {
		case collab.GarmentUpperBody, collab.GarmentLowerBody:
			selected = collab.RemoveGarment(selected, garmentType)
		default:
			return nil, errors.Errorf("unknown garment type %q", garmentType)
		}
	}
	if len(selected) == 0 {
		return nil, errors.New("select at least one garment with --upper, --lower or --selection")
	}
	return selected, nil
}

func isRemote(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}
