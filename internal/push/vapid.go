package push

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/socialsync/internal/logger"
)

// VAPIDKeys: пара ключей Web Push. Публичный ключ UI получает через /api/config/push.
type VAPIDKeys struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

const defaultVAPIDKeysPath = "config/vapid.json"

// Длины ключей P-256 после base64url: несжатая точка и скаляр.
const (
	vapidPublicLen  = 65
	vapidPrivateLen = 32
)

// Validate проверяет, что ключи декодируются и имеют длины P-256.
func (k *VAPIDKeys) Validate() error {
	if err := checkKey(k.PublicKey, vapidPublicLen); err != nil {
		return fmt.Errorf("public key: %w", err)
	}
	if err := checkKey(k.PrivateKey, vapidPrivateLen); err != nil {
		return fmt.Errorf("private key: %w", err)
	}
	return nil
}

func checkKey(s string, want int) error {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) != want {
		return fmt.Errorf("length %d, want %d", len(raw), want)
	}
	return nil
}

// EnsureVAPIDKeys возвращает ключи из path. Если файла нет или ключи битые,
// генерирует новую пару и сохраняет её. Ошибка записи не мешает запуску:
// сгенерированные ключи живут до рестарта.
func EnsureVAPIDKeys(path string) (*VAPIDKeys, error) {
	if path == "" {
		path = defaultVAPIDKeysPath
	}
	keys, err := loadVAPIDKeys(path)
	switch {
	case err == nil:
		return keys, nil
	case os.IsNotExist(err):
	default:
		logger.Errorf("push: VAPID-ключи в %s непригодны, генерирую новые: %v", path, err)
	}

	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return nil, fmt.Errorf("generate vapid keys: %w", err)
	}
	keys = &VAPIDKeys{PublicKey: pub, PrivateKey: priv}
	if err := saveVAPIDKeys(path, keys); err != nil {
		logger.Errorf("push: не удалось сохранить VAPID-ключи в %s: %v", path, err)
		return keys, nil
	}
	logger.Infof("push: VAPID-ключи сохранены в %s", path)
	return keys, nil
}

func loadVAPIDKeys(path string) (*VAPIDKeys, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var keys VAPIDKeys
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, err
	}
	if err := keys.Validate(); err != nil {
		return nil, err
	}
	return &keys, nil
}

// saveVAPIDKeys пишет через временный файл, чтобы не оставить половину JSON.
func saveVAPIDKeys(path string, keys *VAPIDKeys) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
