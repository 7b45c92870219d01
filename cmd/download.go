////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// The download subcommand saves an attachment, or a thumbnail of it

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
	"gitlab.com/xx_network/primitives/utils"
)

// downloadCmd writes the contents of a stored file to disk. With --preview it
// writes a PNG thumbnail of an image instead.
var downloadCmd = &cobra.Command{
	Use:    "download [file ID]",
	Short:  "Save an attachment or its preview to disk",
	Args:   cobra.ExactArgs(1),
	PreRun: bindLocalFlags,
	Run: func(cmd *cobra.Command, args []string) {
		c := initClient()
		defer c.close()

		id := args[0]
		f, err := c.files.GetFile(id)
		if err != nil {
			jww.FATAL.Panicf("%+v", err)
		}

		// Stored names come from the sender, so only the base name is used
		name := filepath.Base(f.Name)
		var data []byte
		if viper.GetBool(previewFlag) {
			data, err = c.files.GetFilePreview(id, viper.GetUint(previewSizeFlag))
			name += ".preview.png"
		} else {
			data, err = c.files.GetFileDownload(id)
		}
		if err != nil {
			jww.FATAL.Panicf("%+v", err)
		}

		out := viper.GetString(outFlag)
		if out == "" {
			out = name
		}
		if err = utils.WriteFileDef(out, data); err != nil {
			jww.FATAL.Panicf("Failed to write %s: %+v", out, err)
		}
		jww.INFO.Printf("Saved %s (%s) to %s", id, f.MimeType, out)
		fmt.Printf("Saved %d bytes to %s\n", len(data), out)
	},
}

func init() {
	downloadCmd.Flags().Bool(previewFlag, false,
		"Save a PNG thumbnail of an image instead of the file")
	downloadCmd.Flags().Uint(previewSizeFlag, 0,
		"Thumbnail width in pixels, 0 for the configured default")
	downloadCmd.Flags().String(outFlag, "",
		"Output path, defaults to the stored file name")

	rootCmd.AddCommand(downloadCmd)
}
