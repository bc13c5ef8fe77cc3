package db

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/errs"
)

// Scope for Azure Database flexible-server AAD authentication.
const azureDBScope = "https://ossrdbms-aad.database.windows.net/.default"

// azureDBToken fetches a managed-identity access token to use in place of a
// database password. DefaultAzureCredential covers workload identity, the
// IMDS endpoint, and local az login.
func azureDBToken(ctx context.Context) (string, error) {
	const op = "db.azure_token"

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return "", errs.Wrap(errs.KindConfiguration, op, err)
	}
	token, err := cred.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{azureDBScope},
	})
	if err != nil {
		return "", errs.Wrap(errs.KindConfiguration, op, err)
	}
	return token.Token, nil
}
