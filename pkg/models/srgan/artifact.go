// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package srgan

import (
	"bufio"
	"cmp"
	"encoding/gob"
	"fmt"
	"os"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ArtifactName returns the file name of the trained network artifact.
func ArtifactName(maxEpochs, globalStep int) string {
	return fmt.Sprintf("srresnet-epoch=%d-step=%d.pt", maxEpochs, globalStep)
}

// artifactHeader precedes the variables in an artifact file. Each variable value follows
// in the same order, encoded with tensors.Tensor.GobSerialize.
type artifactHeader struct {
	HParams   HParams
	Variables []artifactVariable
}

type artifactVariable struct {
	Scope, Name string
}

// Save writes the hyperparameters and the generator variables to path.
// The model must have been built (see Build).
func (m *SRResNet) Save(path string) (err error) {
	vars := m.Variables()
	if len(vars) == 0 {
		return errors.Errorf("SRResNet has no variables to save to %q, was it built?", path)
	}
	slices.SortFunc(vars, func(a, b *context.Variable) int {
		return cmp.Or(cmp.Compare(a.Scope(), b.Scope()), cmp.Compare(a.Name(), b.Name()))
	})
	header := artifactHeader{HParams: m.hp}
	for _, v := range vars {
		header.Variables = append(header.Variables,
			artifactVariable{Scope: v.Scope(), Name: v.Name()})
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create artifact %q", path)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "failed to close artifact %q", path)
		}
	}()
	w := bufio.NewWriter(f)
	enc := gob.NewEncoder(w)
	if err = enc.Encode(&header); err != nil {
		return errors.Wrapf(err, "failed to encode header of artifact %q", path)
	}
	for _, v := range vars {
		value, err := v.Value()
		if err != nil {
			return errors.WithMessagef(err, "reading variable %s", v.ScopeAndName())
		}
		if err = value.GobSerialize(enc); err != nil {
			return errors.WithMessagef(err, "encoding variable %s to %q", v.ScopeAndName(), path)
		}
	}
	if err = w.Flush(); err != nil {
		return errors.Wrapf(err, "failed to write artifact %q", path)
	}
	klog.V(1).Infof("saved %d variables to %q", len(vars), path)
	return nil
}

// Load reads an artifact written by Save into a new context. Variable values are handed to
// the context as they are created, so the returned model is ready for Upscale.
func Load(path string) (*SRResNet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open artifact %q", path)
	}
	defer func() { _ = f.Close() }()
	dec := gob.NewDecoder(bufio.NewReader(f))
	var header artifactHeader
	if err = dec.Decode(&header); err != nil {
		return nil, errors.Wrapf(err, "failed to decode header of artifact %q", path)
	}
	loader := &artifactLoader{values: make(map[string]*tensors.Tensor, len(header.Variables))}
	for _, v := range header.Variables {
		value, err := tensors.GobDeserialize(dec)
		if err != nil {
			return nil, errors.WithMessagef(err, "decoding variable %s/%s from %q", v.Scope, v.Name, path)
		}
		loader.values[loaderKey(v.Scope, v.Name)] = value
	}

	ctx := context.New()
	ctx.SetLoader(loader)
	return New(ctx, header.HParams)
}

// artifactLoader implements context.Loader with the values read from an artifact.
type artifactLoader struct {
	values map[string]*tensors.Tensor
}

func loaderKey(scope, name string) string {
	return scope + context.ScopeSeparator + name
}

func (l *artifactLoader) LoadVariable(_ *context.Context, scope, name string) (*tensors.Tensor, bool) {
	key := loaderKey(scope, name)
	value, found := l.values[key]
	if found {
		delete(l.values, key)
	}
	return value, found
}

func (l *artifactLoader) DeleteVariable(_ *context.Context, scope, name string) error {
	delete(l.values, loaderKey(scope, name))
	return nil
}
