package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/akamensky/argparse"
	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/tiledetect/pkg/detect"
	"github.com/cyclopcam/tiledetect/pkg/onnxdet"
	"github.com/google/uuid"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("predict", "Run tiled pyramid object detection over large images")
	input := parser.String("i", "input", &argparse.Options{Help: "An image file or a directory of image files", Required: true})
	outputDir := parser.String("o", "output", &argparse.Options{Help: "The result directory", Required: true})
	modelFile := parser.String("n", "model", &argparse.Options{Help: "Path to ONNX model file", Required: true})
	pattern := parser.String("p", "pattern", &argparse.Options{Help: "Regex that input filenames must match", Required: false, Default: `(?i)\.(jpe?g|png)$`})
	maxImages := parser.Int("", "max-images", &argparse.Options{Help: "Maximum number of images to process (0 = no limit). Truncates in alphabetical order.", Required: false, Default: 0})
	recursive := parser.Flag("R", "recursive", &argparse.Options{Help: "Process images nested within subdirectories of the input"})
	scaleBefore := parser.Float("s", "scale-before", &argparse.Options{Help: "Downscale the image before detection. Crops are still cut from the original image.", Required: false, Default: 1.0})
	singleScale := parser.Flag("", "single-scale", &argparse.Options{Help: "Use a single scale pass instead of the full pyramid"})
	tileSize := parser.Int("t", "tile-size", &argparse.Options{Help: "Tile edge length in pixels", Required: false, Default: detect.DefaultTileSize})
	overlap := parser.Int("", "overlap", &argparse.Options{Help: "Minimum tile overlap in pixels", Required: false, Default: detect.DefaultTileOverlap})
	score := parser.Float("", "score", &argparse.Options{Help: "Score threshold", Required: false, Default: float64(detect.DefaultScoreThreshold)})
	iou := parser.Float("", "iou", &argparse.Options{Help: "IoU threshold for consolidation", Required: false, Default: float64(detect.DefaultIouThreshold)})
	fineFirst := parser.Flag("", "fine-first", &argparse.Options{Help: "Run the finest scale pass first instead of the coarsest"})
	noCrops := parser.Flag("", "no-crops", &argparse.Options{Help: "Do not save the crops"})
	noOverviews := parser.Flag("", "no-overviews", &argparse.Options{Help: "Do not save the overviews"})
	noMetadata := parser.Flag("", "no-metadata", &argparse.Options{Help: "Do not save the metadata"})
	noSave := parser.Flag("S", "no-save", &argparse.Options{Help: "Do not save any results"})
	ortLib := parser.String("", "ort-lib", &argparse.Options{Help: "Path to the onnxruntime shared library", Required: false, Default: ""})
	device := parser.String("g", "gpu", &argparse.Options{Help: "Device to use for inference. Multiple devices are not supported.", Required: false, Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, _ := logs.NewLog()

	cfg := detect.DefaultPyramidConfig()
	cfg.TileSize = *tileSize
	cfg.MinTileOverlap = *overlap
	cfg.ScoreThreshold = float32(*score)
	cfg.IouThreshold = float32(*iou)
	cfg.ScaleBefore = float32(*scaleBefore)
	cfg.SingleScale = *singleScale
	if *fineFirst {
		cfg.Order = detect.FineToCoarse
	}

	model, err := onnxdet.Load(logger, onnxdet.Options{
		ModelPath:   *modelFile,
		LibraryPath: *ortLib,
	})
	check(err)
	defer model.Close()

	predictor, err := detect.NewPredictor(logger, model, cfg)
	check(err)

	files, err := gatherInputs(*input, *pattern, *recursive, *maxImages)
	check(err)
	if len(files) == 0 {
		logger.Warnf("No input images matched %v", *pattern)
		return
	}

	opts := detect.RunOptions{}
	if *device != "" {
		opts.Devices = regexp.MustCompile(`[,;]`).Split(*device, -1)
	}

	runID := uuid.NewString()
	for i, f := range files {
		logger.Infof("Processing image %v/%v: %v", i+1, len(files), f)
		img, err := cimg.ReadFile(f)
		check(err)
		preds, err := predictor.PyramidPredictionsWithOptions(img, f, opts)
		check(err)
		if *noSave {
			continue
		}
		preds.Identifier = runID
		saved, err := preds.Save(*outputDir, detect.SaveOptions{
			Crops:     !*noCrops,
			MaskCrops: true,
			Overview:  !*noOverviews,
			Metadata:  !*noMetadata,
		})
		check(err)
		if saved == "" {
			logger.Infof("%v: nothing to save", f)
		}
	}
}

// gatherInputs expands the input path into a sorted list of image files
func gatherInputs(input, pattern string, recursive bool, maxImages int) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(input)
	if err != nil {
		return nil, err
	}
	files := []string{}
	if !st.IsDir() {
		files = append(files, input)
	} else if recursive {
		err := filepath.WalkDir(input, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && re.MatchString(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		entries, err := os.ReadDir(input)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() && re.MatchString(e.Name()) {
				files = append(files, filepath.Join(input, e.Name()))
			}
		}
	}
	sort.Strings(files)
	if maxImages > 0 && len(files) > maxImages {
		files = files[:maxImages]
	}
	return files, nil
}
