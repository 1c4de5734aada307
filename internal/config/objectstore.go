package config

// ObjectStore は録画保存用のS3互換オブジェクトストア設定です
// 未設定の場合、録画はリレーストア（Redis）に保存されます
type ObjectStore struct {
	Endpoint  string // 例: "minio.example.com:9000"
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	PublicURL string // 直接アクセスURLのベース（署名なしで公開している場合のみ）
}

// Enabled はオブジェクトストアが利用可能かを返します
func (o ObjectStore) Enabled() bool {
	return o.Endpoint != "" && o.Bucket != ""
}

func loadObjectStore() ObjectStore {
	return ObjectStore{
		Endpoint:  envOr("OBJECT_STORE_ENDPOINT", ""),
		AccessKey: envOr("OBJECT_STORE_ACCESS_KEY", ""),
		SecretKey: envOr("OBJECT_STORE_SECRET_KEY", ""),
		Bucket:    envOr("OBJECT_STORE_BUCKET", ""),
		Region:    envOr("OBJECT_STORE_REGION", ""),
		UseSSL:    envBool("OBJECT_STORE_USE_SSL", true),
		PublicURL: envOr("OBJECT_STORE_PUBLIC_URL", ""),
	}
}
