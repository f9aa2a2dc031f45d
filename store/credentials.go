package store

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// FirebaseConfig carries the pieces of a service account loaded from the
// environment. PrivateKey may contain literal `\n` sequences, they get
// replaced with real newlines before use.
type FirebaseConfig struct {
	ProjectId     string
	PrivateKeyId  string
	PrivateKey    string
	ClientEmail   string
	ClientId      string
	ClientCertUrl string
}

func ConfigFromEnv() (FirebaseConfig, error) {
	cfg := FirebaseConfig{
		ProjectId:     viper.GetString("FIREBASE_PROJECT_ID"),
		PrivateKeyId:  viper.GetString("FIREBASE_PRIVATE_KEY_ID"),
		PrivateKey:    viper.GetString("FIREBASE_PRIVATE_KEY"),
		ClientEmail:   viper.GetString("FIREBASE_CLIENT_EMAIL"),
		ClientId:      viper.GetString("FIREBASE_CLIENT_ID"),
		ClientCertUrl: viper.GetString("FIREBASE_CLIENT_X509_CERT_URL"),
	}
	return cfg, cfg.validate()
}

func (cfg FirebaseConfig) validate() error {
	missing := []string{}
	if cfg.ProjectId == "" {
		missing = append(missing, "FIREBASE_PROJECT_ID")
	}
	if cfg.PrivateKeyId == "" {
		missing = append(missing, "FIREBASE_PRIVATE_KEY_ID")
	}
	if cfg.PrivateKey == "" {
		missing = append(missing, "FIREBASE_PRIVATE_KEY")
	}
	if cfg.ClientEmail == "" {
		missing = append(missing, "FIREBASE_CLIENT_EMAIL")
	}
	if cfg.ClientId == "" {
		missing = append(missing, "FIREBASE_CLIENT_ID")
	}
	if cfg.ClientCertUrl == "" {
		missing = append(missing, "FIREBASE_CLIENT_X509_CERT_URL")
	}
	if len(missing) > 0 {
		return errors.New("missing firebase environment variables: " + strings.Join(missing, ", "))
	}
	return nil
}

func (cfg FirebaseConfig) serviceAccountJSON() ([]byte, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	sa := map[string]string{
		"type":                        "service_account",
		"project_id":                  cfg.ProjectId,
		"private_key_id":              cfg.PrivateKeyId,
		"private_key":                 strings.ReplaceAll(cfg.PrivateKey, `\n`, "\n"),
		"client_email":                cfg.ClientEmail,
		"client_id":                   cfg.ClientId,
		"auth_uri":                    "https://accounts.google.com/o/oauth2/auth",
		"token_uri":                   "https://oauth2.googleapis.com/token",
		"auth_provider_x509_cert_url": "https://www.googleapis.com/oauth2/v1/certs",
		"client_x509_cert_url":        cfg.ClientCertUrl,
	}
	return json.Marshal(sa)
}
