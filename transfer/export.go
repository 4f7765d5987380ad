package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tsawler/go-mtlfin/checkpoints"
)

const (
	inSuffix     = "intransferlinear"
	outSuffix    = "outtransferlinear"
	globalSuffix = "globaltransferlinear"
)

// artifact is one file written or read by Export and Restore.
type artifact struct {
	name string // module name stored inside the file
	path string
}

func (t *Trainer) artifactPath(stem string) string {
	name := stem + "." + t.format.Extension()
	p := t.config.ExportPath
	if p == "" || strings.HasSuffix(p, "/") || strings.HasSuffix(p, string(os.PathSeparator)) {
		return p + name
	}
	return filepath.Join(p, name)
}

func (t *Trainer) encoderArtifact(st *subtaskState) artifact {
	stem := fmt.Sprintf("%s_%s_%s_%s", st.task, st.subtask, t.config.ExportLabel, inSuffix)
	return artifact{name: stem, path: t.artifactPath(stem)}
}

func (t *Trainer) decoderArtifact(st *subtaskState) artifact {
	stem := fmt.Sprintf("%s_%s_%s_%s", st.task, st.subtask, t.config.ExportLabel, outSuffix)
	return artifact{name: stem, path: t.artifactPath(stem)}
}

func (t *Trainer) globalArtifact(task string) artifact {
	stem := fmt.Sprintf("%s_%s_%s", task, t.config.ExportLabel, globalSuffix)
	return artifact{name: stem, path: t.artifactPath(stem)}
}

// Export writes, per task, the encoder and decoder of every subtask followed
// by one copy of the global transform. It returns the written paths in order.
func (t *Trainer) Export() ([]string, error) {
	if t.config.ExportPath != "" {
		if err := os.MkdirAll(t.config.ExportPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create export directory: %w", err)
		}
	}

	t.global.Lock()
	defer t.global.Unlock()

	saver := checkpoints.NewCheckpointSaver(t.format)
	var paths []string
	save := func(a artifact, lw *checkpoints.LinearWeights) error {
		lw.Name = a.name
		if err := saver.SaveLinear(lw, a.path); err != nil {
			return fmt.Errorf("export %s: %w", a.path, err)
		}
		t.logger.WithField("path", a.path).Debug("Exported weights")
		paths = append(paths, a.path)
		return nil
	}

	for _, task := range t.tasks {
		for _, st := range t.order {
			if st.task != task {
				continue
			}
			if err := save(t.encoderArtifact(st), checkpoints.FromLinear("", st.model.Encoder())); err != nil {
				return paths, err
			}
			if err := save(t.decoderArtifact(st), checkpoints.FromLinear("", st.model.Decoder())); err != nil {
				return paths, err
			}
		}
		if err := save(t.globalArtifact(task), checkpoints.FromLinear("", t.global.Linear())); err != nil {
			return paths, err
		}
	}

	t.logger.WithFields(logrus.Fields{
		"files":  len(paths),
		"format": t.format.String(),
	}).Info("Exported model weights")
	return paths, nil
}

// Restore loads the artifacts written by Export under the current
// export_path, export_label and export_format. Every task holds a copy of the
// global transform; the first task's copy is used.
func (t *Trainer) Restore() error {
	for _, st := range t.order {
		encoder, err := checkpoints.LoadLinear(t.encoderArtifact(st).path)
		if err != nil {
			return fmt.Errorf("restore %s/%s: %w", st.task, st.subtask, err)
		}
		decoder, err := checkpoints.LoadLinear(t.decoderArtifact(st).path)
		if err != nil {
			return fmt.Errorf("restore %s/%s: %w", st.task, st.subtask, err)
		}
		if err := st.model.LoadWeights(encoder, decoder); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}

	if len(t.tasks) == 0 {
		return nil
	}
	global, err := checkpoints.LoadLinear(t.globalArtifact(t.tasks[0]).path)
	if err != nil {
		return fmt.Errorf("restore global transform: %w", err)
	}
	return t.global.LoadWeights(global)
}
