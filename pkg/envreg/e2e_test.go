package envreg_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/envhub/env-registry/pkg/envreg"
	"github.com/envhub/env-registry/pkg/signature"
)

func sampleBundles() []envreg.BundleManifest {
	return []envreg.BundleManifest{
		{Type: envreg.BundleTypeEnv, URI: "s3://bundles/sample/env.zip", CRC: "1f2e", Hash: "sha256:aa"},
		{Type: envreg.BundleTypeDLL, URI: "s3://bundles/sample/lib.dll", CRC: "3c4d", Hash: "sha256:bb"},
	}
}

func versionRegistration(name, ver string, deps ...envreg.DependencyRef) envreg.VersionRegistration {
	GinkgoHelper()
	reg := envreg.VersionRegistration{
		Name:         name,
		Version:      ver,
		Bundles:      sampleBundles(),
		Dependencies: append([]envreg.DependencyRef{}, deps...),
	}
	reg.Signature = signWith(publisherKeys, reg.Message())
	return reg
}

var _ = Describe("Environment registry", func() {
	Context("publishing and resolving environments", Ordered, func() {
		var srv *httptest.Server

		BeforeAll(func() {
			srv = startServer()
		})

		It("registers a namespace signed by the admin key", func() {
			key := signature.EncodePublicKey(publisherKeys.PublicKeyPEM)
			resp := postJSON(srv, "/api/envreg/v1alpha1/namespaces", envreg.NamespaceRegistration{
				Namespace: "sample",
				Key:       key,
				Signature: signWith(adminKeys, signature.NamespaceMessage("sample", key)),
			})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var body map[string]string
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body["namespace"]).To(Equal("sample"))
		})

		It("registers the first version of sample", func() {
			By("posting sample 0.0.3 with two bundles and no dependencies")
			resp := postJSON(srv, "/api/envreg/v1alpha1/versions", versionRegistration("sample", "0.0.3"))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			By("listing every version")
			versions, status := getJSON[[]envreg.EnvironmentVersions](srv, "/api/envreg/v1alpha1/versions")
			Expect(status).To(Equal(http.StatusOK))
			Expect(versions).To(ContainElement(envreg.EnvironmentVersions{Name: "sample", Versions: []string{"0.0.3"}}))
		})

		It("registers sample.top depending on sample under the sample namespace", func() {
			resp := postJSON(srv, "/api/envreg/v1alpha1/versions",
				versionRegistration("sample.top", "0.0.3", envreg.DependencyRef{Name: "sample", Version: "0.0.3"}))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			m, status := getJSON[envreg.VersionManifest](srv, "/api/envreg/v1alpha1/environments/sample.top/versions/0.0.3")
			Expect(status).To(Equal(http.StatusOK))
			Expect(m.Bundles).To(HaveLen(2))
			Expect(m.Dependencies).To(HaveLen(1))
			Expect(m.Dependencies[0].Name).To(Equal("sample"))
			Expect(m.Dependencies[0].Version).To(Equal("0.0.3"))
			Expect(m.Dependencies[0].Bundles).To(ConsistOf(sampleBundles()[1]))
		})

		It("keeps 0.0.3 as latest when 0.0.2 is registered afterwards", func() {
			resp := postJSON(srv, "/api/envreg/v1alpha1/versions",
				versionRegistration("sample.top", "0.0.2", envreg.DependencyRef{Name: "sample", Version: "0.0.3"}))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			m, status := getJSON[envreg.VersionManifest](srv, "/api/envreg/v1alpha1/environments/sample.top/latest")
			Expect(status).To(Equal(http.StatusOK))
			Expect(m.Version).To(Equal("0.0.3"))
			Expect(m.Latest).To(BeTrue())

			versions, _ := getJSON[[]envreg.EnvironmentVersions](srv, "/api/envreg/v1alpha1/versions")
			Expect(versions).To(ContainElement(envreg.EnvironmentVersions{Name: "sample.top", Versions: []string{"0.0.3", "0.0.2"}}))
		})

		It("rejects a registration with two dll bundles and persists nothing", func() {
			before, _ := getJSON[[]envreg.EnvironmentVersions](srv, "/api/envreg/v1alpha1/versions")

			reg := envreg.VersionRegistration{
				Name:    "sample.dup",
				Version: "1.0.0",
				Bundles: []envreg.BundleManifest{
					{Type: envreg.BundleTypeDLL, URI: "a", CRC: "a", Hash: "a"},
					{Type: envreg.BundleTypeDLL, URI: "b", CRC: "b", Hash: "b"},
				},
				Dependencies: []envreg.DependencyRef{},
			}
			reg.Signature = signWith(publisherKeys, reg.Message())
			resp := postJSON(srv, "/api/envreg/v1alpha1/versions", reg)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			after, _ := getJSON[[]envreg.EnvironmentVersions](srv, "/api/envreg/v1alpha1/versions")
			Expect(after).To(Equal(before))
		})

		It("rejects a dependency that is not registered", func() {
			resp := postJSON(srv, "/api/envreg/v1alpha1/versions",
				versionRegistration("sample.other", "0.0.1", envreg.DependencyRef{Name: "sample", Version: "0.0.4"}))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			var body map[string]string
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body["code"]).To(Equal(string(envreg.CodeDependenciesMissing)))

			_, status := getJSON[envreg.VersionManifest](srv, "/api/envreg/v1alpha1/environments/sample.other/versions/0.0.1")
			Expect(status).To(Equal(http.StatusNotFound))
		})

		It("serves the full dependency closure", func() {
			resp := postJSON(srv, "/api/envreg/v1alpha1/versions",
				versionRegistration("sample.top.leaf", "1.0.0", envreg.DependencyRef{Name: "sample.top", Version: "0.0.3"}))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			c, status := getJSON[envreg.ClosureManifest](srv, "/api/envreg/v1alpha1/environments/sample.top.leaf/versions/1.0.0/closure")
			Expect(status).To(Equal(http.StatusOK))
			Expect(c.Dependencies).To(HaveLen(2))
			Expect(c.Dependencies[0].Name).To(Equal("sample.top"))
			Expect(c.Dependencies[1].Name).To(Equal("sample"))
		})
	})
})
