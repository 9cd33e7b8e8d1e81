package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/shellback/shellback/internal/config"
	"github.com/shellback/shellback/internal/database"
	"github.com/shellback/shellback/internal/hostfile"
	"github.com/shellback/shellback/internal/secrets"
)

type profileRequest struct {
	Name        string `json:"name"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	User        string `json:"user"`
	KeyPath     string `json:"key_path"`
	Passphrase  string `json:"passphrase"`
	MaxAttempts int    `json:"max_attempts"`
	Scrollback  int    `json:"scrollback"`
}

type profileResponse struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	User        string `json:"user"`
	KeyPath     string `json:"key_path"`
	Passphrase  string `json:"passphrase"` // masked, never cleartext
	MaxAttempts int    `json:"max_attempts"`
	Scrollback  int    `json:"scrollback"`
}

func toProfileResponse(p database.HostProfile) profileResponse {
	masked := ""
	if p.Passphrase != "" {
		if dec, err := secrets.Decrypt(p.Passphrase); err == nil {
			masked = secrets.Mask(dec)
		}
	}
	return profileResponse{
		ID:          p.ID,
		Name:        p.Name,
		Host:        p.Host,
		Port:        p.Port,
		User:        p.User,
		KeyPath:     p.KeyPath,
		Passphrase:  masked,
		MaxAttempts: p.MaxAttempts,
		Scrollback:  p.Scrollback,
	}
}

func ListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := database.ListProfiles()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list profiles")
		return
	}
	resp := make([]profileResponse, len(profiles))
	for i, p := range profiles {
		resp[i] = toProfileResponse(p)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"profiles": resp})
}

func GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := database.GetProfileByName(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Profile not found")
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(*p))
}

func CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" || req.Host == "" {
		writeError(w, http.StatusBadRequest, "name and host are required")
		return
	}
	if _, err := database.GetProfileByName(req.Name); err == nil {
		writeError(w, http.StatusConflict, "Profile already exists")
		return
	}

	p := database.HostProfile{
		Name:        req.Name,
		Host:        req.Host,
		Port:        req.Port,
		User:        req.User,
		KeyPath:     req.KeyPath,
		MaxAttempts: req.MaxAttempts,
		Scrollback:  req.Scrollback,
	}
	if p.Port == 0 {
		p.Port = 22
	}
	if p.User == "" {
		p.User = "root"
	}
	if req.Passphrase != "" {
		enc, err := secrets.Encrypt(req.Passphrase)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to encrypt passphrase")
			return
		}
		p.Passphrase = enc
	}

	if err := database.SaveProfile(&p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save profile")
		return
	}
	writeJSON(w, http.StatusCreated, toProfileResponse(p))
}

func UpdateProfile(w http.ResponseWriter, r *http.Request) {
	p, err := database.GetProfileByName(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Profile not found")
		return
	}

	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Host != "" {
		p.Host = req.Host
	}
	if req.Port != 0 {
		p.Port = req.Port
	}
	if req.User != "" {
		p.User = req.User
	}
	if req.KeyPath != "" {
		p.KeyPath = req.KeyPath
	}
	if req.MaxAttempts != 0 {
		p.MaxAttempts = req.MaxAttempts
	}
	if req.Scrollback != 0 {
		p.Scrollback = req.Scrollback
	}
	// An explicit empty passphrase in the request leaves the stored one
	// untouched; clearing requires deleting and recreating the profile.
	if req.Passphrase != "" {
		enc, err := secrets.Encrypt(req.Passphrase)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to encrypt passphrase")
			return
		}
		p.Passphrase = enc
	}

	if err := database.SaveProfile(p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save profile")
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(*p))
}

func DeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := database.DeleteProfile(chi.URLParam(r, "name")); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "Profile not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete profile")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ImportProfiles loads host profiles from the configured hosts file.
func ImportProfiles(w http.ResponseWriter, r *http.Request) {
	path := config.Cfg.HostsFile
	if path == "" {
		writeError(w, http.StatusBadRequest, "No hosts file configured")
		return
	}
	n, err := hostfile.Import(path)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}

// ExportProfiles writes all profiles to the configured hosts file.
func ExportProfiles(w http.ResponseWriter, r *http.Request) {
	path := config.Cfg.HostsFile
	if path == "" {
		writeError(w, http.StatusBadRequest, "No hosts file configured")
		return
	}
	n, err := hostfile.Export(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"exported": n})
}
