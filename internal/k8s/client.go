package k8s

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/poolscaler/internal/config"

	apiextensionsclientset "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsclientset "k8s.io/metrics/pkg/client/clientset/versioned"
)

// Client K8s客户端封装
type Client struct {
	clientset     kubernetes.Interface
	dynamicClient dynamic.Interface
	crdClient     apiextensionsclientset.Interface
	metricsClient metricsclientset.Interface
	restConfig    *rest.Config
	logger        *logrus.Logger

	reconnectInterval time.Duration
}

// NewClient 创建新的K8s客户端
func NewClient(cfg *config.K8sConfig, logger *logrus.Logger) (*Client, error) {
	var restConfig *rest.Config
	var err error

	// 如果有kubeconfig文件，使用文件配置
	if cfg.Kubeconfig != "" {
		restConfig, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
	} else {
		// 否则使用in-cluster配置
		restConfig, err = rest.InClusterConfig()
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create k8s config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	dynamicClient, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}

	crdClient, err := apiextensionsclientset.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create CRD clientset: %w", err)
	}

	metricsClient, err := metricsclientset.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics client: %w", err)
	}

	c := NewClientFromInterfaces(clientset, dynamicClient, crdClient, metricsClient, logger)
	c.restConfig = restConfig
	if cfg.ReconnectInterval > 0 {
		c.reconnectInterval = time.Duration(cfg.ReconnectInterval) * time.Second
	}
	return c, nil
}

// NewClientFromInterfaces 用已有的客户端构造（测试时传入fake）
func NewClientFromInterfaces(
	clientset kubernetes.Interface,
	dynamicClient dynamic.Interface,
	crdClient apiextensionsclientset.Interface,
	metricsClient metricsclientset.Interface,
	logger *logrus.Logger,
) *Client {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}

	return &Client{
		clientset:         clientset,
		dynamicClient:     dynamicClient,
		crdClient:         crdClient,
		metricsClient:     metricsClient,
		logger:            logger,
		reconnectInterval: 5 * time.Second,
	}
}

// TestConnection 测试K8s连接
func (c *Client) TestConnection() error {
	// 尝试获取集群版本
	version, err := c.clientset.Discovery().ServerVersion()
	if err != nil {
		return fmt.Errorf("failed to get server version: %w", err)
	}

	c.logger.Infof("Connected to Kubernetes cluster: %s", version.String())
	return nil
}

// Kubernetes 返回clientset
func (c *Client) Kubernetes() kubernetes.Interface {
	return c.clientset
}

// Dynamic 返回dynamic client
func (c *Client) Dynamic() dynamic.Interface {
	return c.dynamicClient
}

// CRDs 返回apiextensions clientset
func (c *Client) CRDs() apiextensionsclientset.Interface {
	return c.crdClient
}

// Metrics 返回metrics-server客户端
func (c *Client) Metrics() metricsclientset.Interface {
	return c.metricsClient
}

// Logger 返回日志实例
func (c *Client) Logger() *logrus.Logger {
	return c.logger
}

// SetReconnectInterval 设置watch断开后的重连间隔
func (c *Client) SetReconnectInterval(d time.Duration) {
	if d > 0 {
		c.reconnectInterval = d
	}
}
