package template

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jinkaiteo/QMS-sub001/model"
)

// templateFile is the YAML shape of a seed template on disk.
type templateFile struct {
	Name               string     `yaml:"name"`
	TargetType         string     `yaml:"target_type"`
	CategoryID         string     `yaml:"category_id"`
	MultiLevelApproval bool       `yaml:"multi_level_approval"`
	Steps              []stepFile `yaml:"steps"`
}

type stepFile struct {
	Order              int    `yaml:"order"`
	Name               string `yaml:"name"`
	Kind               string `yaml:"kind"`
	RequiredRole       string `yaml:"required_role"`
	RequiredDepartment string `yaml:"required_department"`
	RequiredUser       string `yaml:"required_user"`
	DaysToComplete     int    `yaml:"days_to_complete"`
	Required           *bool  `yaml:"required"`
	Delegable          *bool  `yaml:"delegable"`
	RequiresSignature  bool   `yaml:"requires_signature"`
	SignatureMeaning   string `yaml:"signature_meaning"`
}

// Loader seeds the template store from a directory of YAML files at startup.
type Loader struct {
	store  Store
	logger *zap.Logger
}

// NewLoader creates a loader writing into the given store.
func NewLoader(store Store, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{store: store, logger: logger}
}

// LoadDir walks dir for .yaml/.yml files and registers each as an active
// template, skipping target type and category combinations that already
// have an active template so restarts do not duplicate seeds. Returns the
// number of templates loaded.
func (l *Loader) LoadDir(ctx context.Context, dir string) (int, error) {
	loaded := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		tpl, checksum, err := l.loadFile(path)
		if err != nil {
			return fmt.Errorf("template file %s: %w", path, err)
		}

		if _, ferr := l.store.FindActive(ctx, tpl.TargetType, tpl.CategoryID); ferr == nil {
			l.logger.Debug("template seed skipped, active template exists",
				zap.String("file", path),
				zap.String("target_type", tpl.TargetType),
			)
			return nil
		}

		if err := l.store.Create(ctx, tpl); err != nil {
			return fmt.Errorf("template file %s: %w", path, err)
		}
		loaded++
		l.logger.Info("template seed loaded",
			zap.String("file", path),
			zap.String("template_id", tpl.ID),
			zap.String("target_type", tpl.TargetType),
			zap.String("checksum", checksum),
		)
		return nil
	})
	return loaded, err
}

func (l *Loader) loadFile(path string) (model.WorkflowTemplate, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.WorkflowTemplate{}, "", err
	}
	sum := sha256.Sum256(raw)

	var tf templateFile
	if err := yaml.Unmarshal(raw, &tf); err != nil {
		return model.WorkflowTemplate{}, "", fmt.Errorf("parse yaml: %w", err)
	}

	tpl := model.WorkflowTemplate{
		ID:                 uuid.New().String(),
		Name:               tf.Name,
		TargetType:         tf.TargetType,
		CategoryID:         tf.CategoryID,
		Version:            1,
		Lifecycle:          model.TemplateActive,
		MultiLevelApproval: tf.MultiLevelApproval,
		CreatedBy:          "system",
		CreatedAt:          time.Now().UTC(),
	}
	for _, sf := range tf.Steps {
		step := model.StepBlueprint{
			Order:              sf.Order,
			Name:               sf.Name,
			Kind:               model.StepKind(sf.Kind),
			RequiredRole:       sf.RequiredRole,
			RequiredDepartment: sf.RequiredDepartment,
			RequiredUser:       sf.RequiredUser,
			DaysToComplete:     sf.DaysToComplete,
			Required:           true,
			Delegable:          true,
			RequiresSignature:  sf.RequiresSignature,
			SignatureMeaning:   sf.SignatureMeaning,
		}
		if sf.Required != nil {
			step.Required = *sf.Required
		}
		if sf.Delegable != nil {
			step.Delegable = *sf.Delegable
		}
		tpl.Steps = append(tpl.Steps, step)
	}

	if verrs := ValidateTemplate(tpl); len(verrs) > 0 {
		return model.WorkflowTemplate{}, "", model.NewValidationError(verrs)
	}
	return tpl, hex.EncodeToString(sum[:]), nil
}
