// Copyright Contributors to the env360 project

// Package k8sgateway implements the K8s Gateway: building an
// authenticated API client from a KubernetesCluster record, applying
// manifests with server-side apply and strategic-merge fallback, and
// polling resource readiness per kind. Clients are step-scoped -- never
// shared across steps or cached process-wide -- shared
// resource policy.
package k8sgateway

import (
	"os"

	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/env360/env360/internal/apperr"
	"github.com/env360/env360/internal/crypt"
	"github.com/env360/env360/internal/domain"
)

// Gateway builds clients for a single KubernetesCluster record,
// decrypting credentials on demand via Encryptor. A Gateway holds no
// live connection; Client() builds a fresh rest.Config/client.Client per
// call.
type Gateway struct {
	Encryptor crypt.Encryptor
}

// New returns a Gateway backed by enc for decrypting cluster credentials.
func New(enc crypt.Encryptor) *Gateway {
	return &Gateway{Encryptor: enc}
}

// Client builds an authenticated controller-runtime client.Client for
// cluster, dispatching on its AuthMethod. Callers MUST call
// the returned cleanup func on every exit path, even on error, since
// clientCert auth may have already written temp files before failing a
// later step.
func (g *Gateway) Client(cluster domain.KubernetesCluster) (ctrlclient.Client, func(), error) {
	cfg, cleanup, err := g.restConfig(cluster)
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		return nil, func() {}, err
	}

	scheme := buildScheme()
	cl, err := ctrlclient.New(cfg, ctrlclient.Options{Scheme: scheme})
	if err != nil {
		cleanup()
		return nil, func() {}, apperr.Wrap(apperr.KindUnavailable, "k8sgateway: building client", err)
	}
	return cl, cleanup, nil
}

func (g *Gateway) restConfig(cluster domain.KubernetesCluster) (*rest.Config, func(), error) {
	noop := func() {}
	switch cluster.AuthMethod {
	case domain.AuthMethodToken, domain.AuthMethodServiceAccount:
		tok, err := g.decrypt(cluster.Token)
		if err != nil {
			return nil, noop, err
		}
		if tok == "" {
			return nil, noop, apperr.Invalid("k8sgateway: cluster %s has no token for auth_method=%s", cluster.ID, cluster.AuthMethod)
		}
		return &rest.Config{
			Host: cluster.APIURL,
			BearerToken: tok,
			TLSClientConfig: rest.TLSClientConfig{Insecure: false},
		}, noop, nil

	case domain.AuthMethodKubeconfig:
		content, err := g.decrypt(cluster.KubeconfigContent)
		if err != nil {
			return nil, noop, err
		}
		if content == "" {
			return nil, noop, apperr.Invalid("k8sgateway: cluster %s has no kubeconfig_content", cluster.ID)
		}
		cfg, err := clientcmd.RESTConfigFromKubeConfig([]byte(content))
		if err != nil {
			return nil, noop, apperr.Wrap(apperr.KindInvalid, "k8sgateway: parsing kubeconfig", err)
		}
		return cfg, noop, nil

	case domain.AuthMethodClientCert:
		return g.clientCertConfig(cluster)

	default:
		return nil, noop, apperr.Invalid("k8sgateway: unsupported auth_method %q", cluster.AuthMethod)
	}
}

// clientCertConfig persists the decrypted key/cert/CA to ephemeral
// storage and builds an mTLS rest.Config referencing the files. The
// files are deleted on every exit path.
func (g *Gateway) clientCertConfig(cluster domain.KubernetesCluster) (*rest.Config, func(), error) {
	key, err := g.decrypt(cluster.ClientKey)
	if err != nil {
		return nil, func() {}, err
	}
	cert, err := g.decrypt(cluster.ClientCert)
	if err != nil {
		return nil, func() {}, err
	}
	ca, err := g.decrypt(cluster.ClientCACert)
	if err != nil {
		return nil, func() {}, err
	}
	if key == "" || cert == "" {
		return nil, func() {}, apperr.Invalid("k8sgateway: cluster %s missing client key/cert for auth_method=clientCert", cluster.ID)
	}

	dir, err := os.MkdirTemp("", "env360-clientcert-*")
	if err != nil {
		return nil, func() {}, apperr.Wrap(apperr.KindFatal, "k8sgateway: creating temp dir", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	keyPath := dir + "/client.key"
	certPath := dir + "/client.crt"
	caPath := dir + "/ca.crt"

	if err := os.WriteFile(keyPath, []byte(key), 0600); err != nil {
		cleanup()
		return nil, func() {}, apperr.Wrap(apperr.KindFatal, "k8sgateway: writing client key", err)
	}
	if err := os.WriteFile(certPath, []byte(cert), 0600); err != nil {
		cleanup()
		return nil, func() {}, apperr.Wrap(apperr.KindFatal, "k8sgateway: writing client cert", err)
	}

	tlsConfig := rest.TLSClientConfig{
		CertFile: certPath,
		KeyFile: keyPath,
	}
	if ca != "" {
		if err := os.WriteFile(caPath, []byte(ca), 0600); err != nil {
			cleanup()
			return nil, func() {}, apperr.Wrap(apperr.KindFatal, "k8sgateway: writing CA cert", err)
		}
		tlsConfig.CAFile = caPath
	}

	return &rest.Config{
		Host: cluster.APIURL,
		TLSClientConfig: tlsConfig,
	}, cleanup, nil
}

func (g *Gateway) decrypt(ciphertext *string) (string, error) {
	if ciphertext == nil || *ciphertext == "" {
		return "", nil
	}
	plain, err := g.Encryptor.Decrypt(*ciphertext)
	if err != nil {
		if crypt.IsDecryptError(err) {
			return "", apperr.Wrap(apperr.KindInvalid, "k8sgateway: decrypting cluster credential", err)
		}
		return "", apperr.Wrap(apperr.KindFatal, "k8sgateway: decrypting cluster credential", err)
	}
	return plain, nil
}

