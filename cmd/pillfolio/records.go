package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pillfolio/pillfolio/internal/boundary"
	"github.com/pillfolio/pillfolio/internal/domain/patient"
	"github.com/pillfolio/pillfolio/internal/domain/prescription"
)

func patientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patient",
		Short: "Manage patients",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List patients, primary first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, boundary.PathPicker{}, func(ctx context.Context, a *app) error {
				items, err := a.patients.ListPatients(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tRELATIONSHIP\tPRIMARY\tPRESCRIPTIONS")
				for _, p := range items {
					fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\n", p.ID, p.Name, deref(p.Relationship), p.IsPrimary, p.PrescriptionsCount)
				}
				return w.Flush()
			})
		},
	})

	createCmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := patient.NewPatientInput{Name: args[0]}
			in.IsPrimary, _ = cmd.Flags().GetBool("primary")
			if v, _ := cmd.Flags().GetString("relationship"); cmd.Flags().Changed("relationship") {
				in.Relationship = &v
			}
			if v, _ := cmd.Flags().GetString("gender"); cmd.Flags().Changed("gender") {
				in.Gender = &v
			}

			return withApp(cmd, boundary.PathPicker{}, func(ctx context.Context, a *app) error {
				p, err := a.patients.CreatePatient(ctx, in)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), p.ID)
				return nil
			})
		},
	}
	createCmd.Flags().String("relationship", "", "Relationship to the account holder")
	createCmd.Flags().String("gender", "", "Gender")
	createCmd.Flags().Bool("primary", false, "Mark as the primary patient")
	cmd.AddCommand(createCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a patient and their prescriptions, or move them with --reassign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			strategy := patient.DeleteAll()
			if target, _ := cmd.Flags().GetString("reassign"); target != "" {
				strategy = patient.ReassignTo(target)
			}

			return withApp(cmd, boundary.PathPicker{}, func(ctx context.Context, a *app) error {
				return a.patients.DeletePatient(ctx, args[0], strategy)
			})
		},
	}
	deleteCmd.Flags().String("reassign", "", "Move prescriptions to this patient instead of deleting them")
	cmd.AddCommand(deleteCmd)

	return cmd
}

func prescriptionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prescription",
		Short: "Manage prescriptions",
	}

	addCmd := &cobra.Command{
		Use:   "add PHOTO",
		Short: "Store a prescription photo with its details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			d := prescription.Draft{}
			d.PatientID, _ = flags.GetString("patient")
			d.DoctorName, _ = flags.GetString("doctor")
			d.DoctorSpecialty, _ = flags.GetString("specialty")
			d.Condition, _ = flags.GetString("condition")
			d.VisitDate, _ = flags.GetString("visit-date")
			d.Notes, _ = flags.GetString("notes")
			tags, _ := flags.GetString("tags")
			d.Tags = prescription.ParseTagInput(tags)

			return withApp(cmd, boundary.PathPicker{Path: args[0]}, func(ctx context.Context, a *app) error {
				uri, err := a.prescriptions.PickPhoto(ctx, boundary.SourceLibrary)
				if err != nil {
					return err
				}
				d.PhotoURI = uri

				if d.PatientID == "" {
					if d.PatientID, err = a.prescriptions.EnsureDefaultPatient(ctx); err != nil {
						return err
					}
				}

				res, err := a.prescriptions.Add(ctx, d)
				if err != nil {
					return err
				}
				if !res.OK() {
					return fieldErrors(res.Errors)
				}
				fmt.Fprintln(cmd.OutOrStdout(), res.Prescription.ID)
				return nil
			})
		},
	}
	addCmd.Flags().String("patient", "", "Owning patient ID (defaults to the first patient)")
	addCmd.Flags().String("doctor", "", "Doctor name")
	addCmd.Flags().String("specialty", "", "Doctor specialty")
	addCmd.Flags().String("condition", "", "Condition treated")
	addCmd.Flags().String("visit-date", "", "Visit date, YYYY-MM-DD")
	addCmd.Flags().String("notes", "", "Free-form notes")
	addCmd.Flags().String("tags", "", "Comma separated tags")
	cmd.AddCommand(addCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List prescriptions, newest visit first",
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, _ := cmd.Flags().GetString("patient")
			return withApp(cmd, boundary.PathPicker{}, func(ctx context.Context, a *app) error {
				items, err := a.prescriptions.List(ctx, patientID)
				if err != nil {
					return err
				}
				return printPrescriptions(cmd.OutOrStdout(), items)
			})
		},
	}
	listCmd.Flags().String("patient", "", "Only this patient's prescriptions")
	cmd.AddCommand(listCmd)

	searchCmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search doctor, condition and tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, _ := cmd.Flags().GetString("patient")
			params := prescription.SearchParams{
				PatientID:         patientID,
				Query:             args[0],
				SearchAllPatients: patientID == "",
			}
			return withApp(cmd, boundary.PathPicker{}, func(ctx context.Context, a *app) error {
				items, err := a.prescriptions.Search(ctx, params)
				if err != nil {
					return err
				}
				return printPrescriptions(cmd.OutOrStdout(), items)
			})
		},
	}
	searchCmd.Flags().String("patient", "", "Restrict the search to this patient")
	cmd.AddCommand(searchCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete ID",
		Short: "Delete a prescription and its photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, boundary.PathPicker{}, func(ctx context.Context, a *app) error {
				deleted, err := a.prescriptions.Delete(ctx, args[0])
				if err != nil {
					return err
				}
				if !deleted {
					return fmt.Errorf("prescription %s not found", args[0])
				}
				return nil
			})
		},
	})

	return cmd
}

func printPrescriptions(out io.Writer, items []*prescription.Prescription) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVISIT\tDOCTOR\tCONDITION\tTAGS")
	for _, p := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.VisitDate, p.DoctorName, p.Condition, strings.Join(p.Tags, ", "))
	}
	return w.Flush()
}

// fieldErrors flattens validation messages into one error, ordered by field.
func fieldErrors(errs map[string]string) error {
	if len(errs) == 0 {
		return errors.New("invalid prescription")
	}
	fields := make([]string, 0, len(errs))
	for _, f := range slices.Sorted(maps.Keys(errs)) {
		fields = append(fields, f+": "+errs[f])
	}
	return errors.New(strings.Join(fields, "; "))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
