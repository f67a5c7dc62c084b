package cmd

import (
	"fmt"
	"os"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/shiena/ansicolor"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ccpvault00/isyntax2tiff/internal/convert"
	"github.com/ccpvault00/isyntax2tiff/pkg/pyrtiff"
)

const version = "1.0.0"

var cfgFile string

// rootCmd converts a single file when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "isyntax2tiff INPUT OUTPUT",
	Short: "Convert Philips iSyntax slides to pyramidal BigTIFF",
	Long: `isyntax2tiff reads a Philips iSyntax whole-slide image and writes a
tiled, pyramidal BigTIFF, including any embedded macro and label images.

Examples:
  # Convert one slide with the defaults (1024px tiles, JPEG quality 80)
  isyntax2tiff slide.isyntax slide.tiff

  # Lossless output plus the Philips XML sidecar
  isyntax2tiff slide.isyntax slide.tiff --compression lzw --xml

  # Additional 512px-tiled pyramid next to the main output
  isyntax2tiff slide.isyntax slide.tiff --pyramid-512

  # Convert a whole directory
  isyntax2tiff batch /data/slides /data/tiff --file-workers 2

  # Start the HTTP conversion service
  isyntax2tiff serve --port 8080`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 2 {
			return cmd.Help()
		}
		return runConvert(cmd, args)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initLogging)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.isyntax2tiff.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	// Conversion flags, shared with the batch and serve subcommands
	rootCmd.PersistentFlags().Int("tile-size", convert.DefaultTileSize, "tile edge in pixels for fetching and output")
	rootCmd.PersistentFlags().Int("max-workers", 4, "maximum concurrent tile assembly workers")
	rootCmd.PersistentFlags().Int("batch-size", 250, "number of patches requested from the source at a time")
	rootCmd.PersistentFlags().Int("fill-color", 0, "background color 0-255 for missing tiles")
	rootCmd.PersistentFlags().String("compression", "jpeg", "output compression (jpeg|lzw|deflate|none)")
	rootCmd.PersistentFlags().IntP("quality", "q", convert.DefaultQuality, "JPEG quality 1-100")
	rootCmd.PersistentFlags().Bool("pyramid-512", false, "additionally write a 512px-tiled pyramid")
	rootCmd.PersistentFlags().Bool("xml", false, "write a Philips XML sidecar next to the output")
	rootCmd.PersistentFlags().Duration("batch-timeout", 5*time.Minute, "deadline for draining one patch batch")

	// Bind flags to viper
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("tile-size", rootCmd.PersistentFlags().Lookup("tile-size"))
	viper.BindPFlag("max-workers", rootCmd.PersistentFlags().Lookup("max-workers"))
	viper.BindPFlag("batch-size", rootCmd.PersistentFlags().Lookup("batch-size"))
	viper.BindPFlag("fill-color", rootCmd.PersistentFlags().Lookup("fill-color"))
	viper.BindPFlag("compression", rootCmd.PersistentFlags().Lookup("compression"))
	viper.BindPFlag("quality", rootCmd.PersistentFlags().Lookup("quality"))
	viper.BindPFlag("pyramid-512", rootCmd.PersistentFlags().Lookup("pyramid-512"))
	viper.BindPFlag("xml", rootCmd.PersistentFlags().Lookup("xml"))
	viper.BindPFlag("batch-timeout", rootCmd.PersistentFlags().Lookup("batch-timeout"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".isyntax2tiff" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".isyntax2tiff")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func initLogging() {
	logrus.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		ShowFullLevel:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	logrus.SetOutput(ansicolor.NewAnsiColorWriter(os.Stdout))
	if viper.GetBool("debug") {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

// conversionOptions collects the shared conversion flags.
func conversionOptions() (convert.Options, error) {
	codec, err := pyrtiff.ParseCodec(viper.GetString("compression"))
	if err != nil {
		return convert.Options{}, err
	}
	fill := viper.GetInt("fill-color")
	if fill < 0 || fill > 255 {
		return convert.Options{}, fmt.Errorf("fill-color must be in 0-255, got %d", fill)
	}
	return convert.Options{
		TileSize:     viper.GetInt("tile-size"),
		MaxWorkers:   viper.GetInt("max-workers"),
		BatchSize:    viper.GetInt("batch-size"),
		BatchTimeout: viper.GetDuration("batch-timeout"),
		Fill:         uint8(fill),
		Codec:        codec,
		Quality:      viper.GetInt("quality"),
		Pyramid512:   viper.GetBool("pyramid-512"),
		XMLSidecar:   viper.GetBool("xml"),
	}, nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	opts, err := conversionOptions()
	if err != nil {
		return err
	}

	log := logrus.WithField("component", "convert")
	res, err := convert.Run(cmd.Context(), log, args[0], args[1], opts)
	if err != nil {
		return err
	}

	if res.DegradedTiles > 0 {
		log.Warnf("output contains %d degraded tiles", res.DegradedTiles)
	}
	for _, out := range res.Outputs {
		log.Infof("wrote %s", out)
	}
	return nil
}
