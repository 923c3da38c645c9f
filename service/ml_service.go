package service

// ServiceType 服务类型
type ServiceType string

const (
	ServiceTypeTFServing  ServiceType = "tf_serving"  // TensorFlow Serving
	ServiceTypeKServe     ServiceType = "kserve"      // KServe V1/V2
	ServiceTypeTorchServe ServiceType = "torch_serve" // TorchServe
)

// ServiceConfig 服务配置
type ServiceConfig struct {
	// Type 服务类型
	Type ServiceType `yaml:"type"`

	// Endpoint 服务根地址
	// TF Serving: "http://localhost:8501"
	// KServe: "http://localhost:8000"
	// TorchServe: "http://localhost:8080"
	Endpoint string `yaml:"endpoint"`

	// ModelName 模型名称
	ModelName string `yaml:"model_name"`

	// ModelVersion 模型版本
	ModelVersion string `yaml:"model_version"`

	// Protocol KServe 协议版本（v1/v2）
	Protocol string `yaml:"protocol"`

	// InputName KServe V2 输入张量名称
	InputName string `yaml:"input_name"`

	// OutputName KServe V2 输出张量名称
	OutputName string `yaml:"output_name"`

	// Timeout 超时时间（秒）
	Timeout int `yaml:"timeout"`

	// Auth 认证信息（可选）
	Auth *AuthConfig `yaml:"auth"`
}

// AuthConfig 认证配置
type AuthConfig struct {
	Type     string `yaml:"type"` // "basic", "bearer", "api_key"
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Token    string `yaml:"token"`
	APIKey   string `yaml:"api_key"`
}
