package main

// A short trajectory of a three-atom cluster (two silicon, one
// hydrogen) used by the selfcheck mode.
const selfCheckData = `0,14,0.000,0.000,0.000,0.120,0.310,0.020,-10.42
0,14,1.620,0.000,0.000,-0.290,0.140,-0.010,-10.42
0,1,0.810,1.310,0.000,0.170,-0.450,-0.010,-10.42
1,14,0.030,0.020,0.010,0.080,0.270,-0.030,-10.38
1,14,1.590,-0.010,0.000,-0.240,0.180,0.020,-10.38
1,1,0.820,1.280,-0.010,0.160,-0.450,0.010,-10.38
2,14,0.050,0.050,0.010,0.020,0.210,-0.040,-10.35
2,14,1.570,-0.010,0.010,-0.190,0.200,0.010,-10.35
2,1,0.840,1.250,-0.020,0.170,-0.410,0.030,-10.35
3,14,0.060,0.080,0.000,-0.030,0.150,-0.020,-10.33
3,14,1.560,0.000,0.020,-0.150,0.210,-0.010,-10.33
3,1,0.860,1.230,-0.020,0.180,-0.360,0.030,-10.33
4,14,0.060,0.110,-0.010,-0.070,0.090,0.000,-10.34
4,14,1.560,0.020,0.020,-0.120,0.200,-0.020,-10.34
4,1,0.880,1.220,-0.010,0.190,-0.290,0.020,-10.34
5,14,0.050,0.130,-0.010,-0.100,0.030,0.020,-10.36
5,14,1.570,0.040,0.010,-0.100,0.180,-0.020,-10.36
5,1,0.900,1.220,0.000,0.200,-0.210,0.000,-10.36
`
