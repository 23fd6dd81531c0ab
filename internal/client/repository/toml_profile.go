package repository

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	client "github.com/charadev96/gatehouse/internal/client/domain"
)

const (
	permRepository = 0600
)

// TOMLProfileRepository stores admin-API profiles in one TOML file.
// The file is re-read when its timestamp changes, so edits made by
// hand between invocations are picked up.
type TOMLProfileRepository struct {
	FilePath string

	data       schema
	modifiedAt time.Time
}

func (r *TOMLProfileRepository) Get(id string) (client.Profile, error) {
	modified, err := r.fileModified()
	profile := client.Profile{}
	if err != nil {
		return profile, err
	}
	if modified {
		if err := r.load(); err != nil {
			return profile, err
		}
	}
	repr, ok := r.data.Profiles[id]
	if !ok {
		return profile, fmt.Errorf("profile does not exist")
	}
	profile = repr.toDomain(id)
	return profile, nil
}

func (r *TOMLProfileRepository) Set(id string, p client.Profile) error {
	if _, err := os.Stat(r.FilePath); err == nil {
		modified, err := r.fileModified()
		if err != nil {
			return err
		}
		if modified {
			if err := r.load(); err != nil {
				return err
			}
		}
	}
	if r.data.Profiles == nil {
		r.data.Profiles = make(map[string]*profile)
	}
	if _, ok := r.data.Profiles[id]; !ok {
		r.data.Profiles[id] = &profile{}
	}
	r.data.Profiles[id].fromDomain(p)
	if err := r.save(); err != nil {
		return err
	}
	return nil
}

func (r *TOMLProfileRepository) Delete(id string) error {
	_, ok := r.data.Profiles[id]
	if !ok {
		return fmt.Errorf("profile does not exist")
	}
	delete(r.data.Profiles, id)
	if err := r.save(); err != nil {
		return err
	}
	return nil
}

type profile struct {
	Server   string `toml:"server"`
	Token    string `toml:"token"`
	Insecure bool   `toml:"insecure,omitempty"`
}

func (p *profile) toDomain(id string) client.Profile {
	return client.Profile{
		ID:       id,
		Server:   p.Server,
		Token:    p.Token,
		Insecure: p.Insecure,
	}
}

func (p *profile) fromDomain(prof client.Profile) {
	p.Server = prof.Server
	p.Token = prof.Token
	p.Insecure = prof.Insecure
}

type schema struct {
	Profiles map[string]*profile `toml:"profiles"`
}

func (r *TOMLProfileRepository) fileModified() (bool, error) {
	info, err := os.Stat(r.FilePath)
	if err != nil {
		return false, fmt.Errorf("failed to read file timestamp: %w", err)
	}
	modTime := info.ModTime()
	mod := !r.modifiedAt.Equal(modTime)
	if mod {
		r.modifiedAt = modTime
	}
	return mod, nil
}

func (r *TOMLProfileRepository) load() error {
	_, err := toml.DecodeFile(r.FilePath, &r.data)
	if err != nil {
		return fmt.Errorf("failed to load repository: %w", err)
	}
	return nil
}

func (r *TOMLProfileRepository) save() error {
	file, err := os.OpenFile(r.FilePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, permRepository)
	if err != nil {
		return fmt.Errorf("failed to save repository: %w", err)
	}
	defer file.Close()
	enc := toml.NewEncoder(file)
	enc.Indent = ""
	return enc.Encode(r.data)
}
