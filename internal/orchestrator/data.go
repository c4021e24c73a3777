package orchestrator

import (
	"github.com/sergio/cotizador/internal/config"
	"github.com/sergio/cotizador/internal/flow"
	"github.com/sergio/cotizador/internal/types"
)

// defaultAdvisorDocumentType is the document type preselected on portals that
// ask for it at login ("C" = cédula de ciudadanía).
const defaultAdvisorDocumentType = "C"

// BuildStepData flattens the request and credentials into the placeholder
// keys referenced by flow definitions.
func BuildStepData(req *types.QuoteRequest, creds config.Credentials, providerID string) flow.StepData {
	docType := creds.DocumentType
	if docType == "" {
		docType = defaultAdvisorDocumentType
	}
	return flow.StepData{
		"credentials.username":      creds.Username,
		"credentials.password":      creds.Password,
		"credentials.document_type": docType,
		"client.document_number":    req.Client.DocumentNumber,
		"client.document_type":      req.Client.DocumentType,
		"vehicle.plate":             req.Vehicle.Plate,
		"vehicle.model_year":        req.Vehicle.ModelYear,
		"vehicle.brand":             req.Vehicle.Brand,
		"fasecolda.cf":              req.Vehicle.CFCode,
		"fasecolda.ch":              req.Vehicle.CHCode,
		"policy_number":             req.PolicyNumber(providerID),
	}
}
