// Package internal pins the turn-detector model revisions and their file hashes.
package internal

import "path/filepath"

// ModelInfo describes one Hugging Face revision of the turn-detector model.
type ModelInfo struct {
	Name     string // "english", "multilingual"
	Repo     string
	Revision string
	Size     int64
	Files    []string
}

var (
	EnglishModel = ModelInfo{
		Name:     "english",
		Repo:     "livekit/turn-detector",
		Revision: "v1.2.2-en",
		Size:     66 << 20,
		Files:    []string{"onnx/model_q8.onnx", "tokenizer.json", "languages.json"},
	}

	MultilingualModel = ModelInfo{
		Name:     "multilingual",
		Repo:     "livekit/turn-detector",
		Revision: "v0.3.0-intl",
		Size:     281 << 20,
		Files:    []string{"onnx/model_q8.onnx", "tokenizer.json", "languages.json"},
	}

	AllModels = []ModelInfo{EnglishModel, MultilingualModel}
)

// FileHashes holds the SHA-256 of each file of the English revision, keyed by
// revision then path. Files without an entry are only checked for existence.
var FileHashes = map[string]map[string]string{
	EnglishModel.Revision: {
		"onnx/model_q8.onnx": "fdd695a99bda01155fb0b5ce71d34cb9fd3902c62496db7a6c2c7bdeac310ac7",
		"tokenizer.json":     "c8219a662de786c94771323c3500377970f5eaa3afbeaef9390c9a51db9f7884",
		"languages.json":     "a9b71f62240293b05e6fa2b75ffc997ae00cefcc8da8b9567e39e3c356b7ee1",
	},
}

// Lookup finds a model by name.
func Lookup(name string) (ModelInfo, bool) {
	for _, m := range AllModels {
		if m.Name == name {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// Hash returns the expected SHA-256 of file in revision, or "".
func Hash(revision, file string) string {
	return FileHashes[revision][file]
}

// GetModelPath returns the directory where a revision is stored.
func GetModelPath(basePath, revision string) string {
	return filepath.Join(basePath, "turn-detector", revision)
}

// GetModelFilePath returns the path to a specific file for a revision.
func GetModelFilePath(basePath, revision, filename string) string {
	return filepath.Join(GetModelPath(basePath, revision), filename)
}
